package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"chromite/internal/buildapi"
	"chromite/internal/sdkserver"
)

func newBuildAPICommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build-api",
		Short: "Call Build API endpoints",
	}
	cmd.AddCommand(newBuildAPIListCommand(ctx))
	cmd.AddCommand(newBuildAPICallCommand(ctx))
	return cmd
}

func newBuildAPIListCommand(ctx *commandContext) *cobra.Command {
	var socket string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the registered service methods",
		RunE: func(cmd *cobra.Command, args []string) error {
			var methods []string
			if strings.TrimSpace(socket) != "" {
				client, err := sdkserver.Dial(socket)
				if err != nil {
					return fmt.Errorf("connect to sdk server: %w", err)
				}
				defer client.Close()
				if methods, err = client.ListMethods(); err != nil {
					return err
				}
			} else {
				router, err := ctx.newRouter()
				if err != nil {
					return err
				}
				methods = router.ListMethods()
			}
			if asJSON {
				return writeJSON(cmd, methods)
			}
			for _, m := range methods {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&socket, "socket", "", "Query a running sdk-server instead of the local registry")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func newBuildAPICallCommand(ctx *commandContext) *cobra.Command {
	var inv buildapi.Invocation
	var socket string

	cmd := &cobra.Command{
		Use:   "call <service/method>",
		Short: "Call an endpoint with request and response files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv.ServiceMethod = args[0]
			if strings.TrimSpace(socket) != "" {
				return callOverSocket(socket, inv)
			}
			defer ctx.close()
			router, err := ctx.newRouter()
			if err != nil {
				return err
			}
			rc, err := buildapi.Invoke(cmd.Context(), router, inv)
			if rc != buildapi.ReturnCodeSuccess {
				return &exitError{code: rc, err: err}
			}
			return err
		},
	}
	bindInvocationFlags(cmd, &inv)
	cmd.Flags().StringVar(&socket, "socket", "", "Send the call to a running sdk-server (JSON only)")
	return cmd
}

func bindInvocationFlags(cmd *cobra.Command, inv *buildapi.Invocation) {
	flags := cmd.Flags()
	flags.StringVar(&inv.InputJSON, "input-json", "", "Request message as JSON")
	flags.StringVar(&inv.InputBinary, "input-binary", "", "Request message as binary")
	flags.StringVar(&inv.OutputJSON, "output-json", "", "Write the response as JSON")
	flags.StringVar(&inv.OutputBinary, "output-binary", "", "Write the response as binary")
	flags.StringVar(&inv.ConfigJSON, "config-json", "", "Call configuration as JSON")
	flags.StringVar(&inv.ConfigBinary, "config-binary", "", "Call configuration as binary")
}

// callOverSocket forwards a JSON invocation to an sdk-server.
func callOverSocket(socket string, inv buildapi.Invocation) error {
	service, method, err := buildapi.SplitServiceMethod(inv.ServiceMethod)
	if err != nil {
		return err
	}
	if inv.InputBinary != "" || inv.OutputBinary != "" || inv.ConfigBinary != "" {
		return errors.New("sdk-server calls accept JSON messages only")
	}
	if inv.InputJSON == "" || inv.OutputJSON == "" {
		return errors.New("--input-json and --output-json are required")
	}
	input, err := os.ReadFile(inv.InputJSON)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if len(strings.TrimSpace(string(input))) == 0 {
		input = []byte("{}")
	}
	callType := buildapi.CallTypeExecute
	if inv.ConfigJSON != "" {
		handler, err := buildapi.MessageHandlerFor(inv.ConfigJSON, buildapi.FormatJSON)
		if err != nil {
			return err
		}
		cfg, err := buildapi.ReadConfig(handler)
		if err != nil {
			return err
		}
		callType = cfg.CallType
	}

	client, err := sdkserver.Dial(socket)
	if err != nil {
		return fmt.Errorf("connect to sdk server: %w", err)
	}
	defer client.Close()

	resp, err := client.Call(service, method, json.RawMessage(input), int(callType))
	if err != nil {
		return err
	}
	output := resp.Output
	if len(output) == 0 {
		output = json.RawMessage("{}")
	}
	if err := os.WriteFile(inv.OutputJSON, output, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if resp.ReturnCode != buildapi.ReturnCodeSuccess {
		var callErr error
		if resp.Error != "" {
			callErr = errors.New(resp.Error)
		}
		return &exitError{code: resp.ReturnCode, err: callErr}
	}
	return nil
}
