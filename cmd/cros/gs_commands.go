package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chromite/internal/gs"
)

func newGSCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "gs",
		Short:       "Google Storage URL helpers",
		Annotations: map[string]string{"skipConfigLoad": "true"},
	}
	cmd.AddCommand(newGSCanonicalizeCommand())
	cmd.AddCommand(newGSToHTTPCommand())
	return cmd
}

func newGSCanonicalizeCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "canonicalize <url>",
		Short: "Rewrite a storage HTTPS URL to gs:// form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := gs.CanonicalizeURL(args[0], strict)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Reject URLs that are not storage URLs")
	return cmd
}

func newGSToHTTPCommand() *cobra.Command {
	var private bool

	cmd := &cobra.Command{
		Use:   "to-http <gs-url>",
		Short: "Print the HTTPS URL of a gs:// object or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := gs.GSURLToHTTP(args[0], !private, false)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
	cmd.Flags().BoolVar(&private, "private", false, "Use the authenticated endpoint")
	return cmd
}
