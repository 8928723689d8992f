package cgpt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chromite/internal/chroot"
	"chromite/internal/testsupport"
)

const showOutput = `       start        size    part  contents
           0           1          PMBR (Boot GUID: 88FB7EB8-2B3F-B943-B933-EEC571FFB6E1)
           1           1          Pri GPT header
     4513792     4194304       1  Label: "STATE"
                                  Type: 9CCA7A6C-D8D6-4D41-A16F-4F8F9B8DD1E9
                                  UUID: 6B71B7D1-1C2D-5F4E-B4A6-2DD9B8C6C2D1
                                  Attr: [0]
       20480       32768       2  Label: "KERN-A"
                                  Type: FE3A2A5D-4F32-41A7-B725-ACCC3285A309
                                  UUID: 7007C2F3-08E5-AB40-A4BC-FF5B01F5460D
                                  Attr: [1ff]
    16386048       65536       9  Label: "MINIOS-A"
                                  Type: 09845860-705F-4BB5-B16C-8A8A099CAF52
                                  UUID: 25DE3C6F-F3C4-4B4E-9F6B-2D4B73A3D1D4
                                  Attr: [0]
    16451584       65536      10  Label: "MINIOS-B"
                                  Type: 09845860-705F-4BB5-B16C-8A8A099CAF52
                                  UUID: 1A2B3C4D-F3C4-4B4E-9F6B-2D4B73A3D1D4
                                  Attr: [0]
    16451584       65536      11  Label: "STATE"
                                  Type: 0FC63DAF-8483-4772-8E79-3D69D8477DE4
                                  UUID: 2A2B3C4D-F3C4-4B4E-9F6B-2D4B73A3D1D4
                                  Attr: [0]
  7733215       32    Sec GPT table
  7733247        1    Sec GPT header
`

func TestParseShow(t *testing.T) {
	parts, err := ParseShow(showOutput)
	require.NoError(t, err)
	require.Len(t, parts, 5)
	assert.Equal(t, Partition{
		Num: 2, Label: "KERN-A", Start: 20480, Size: 32768,
		Type: "FE3A2A5D-4F32-41A7-B725-ACCC3285A309",
		UUID: "7007C2F3-08E5-AB40-A4BC-FF5B01F5460D",
		Attr: "[1ff]",
	}, parts[1])
	assert.Equal(t, uint64(32768*512), parts[1].SizeBytes())
	assert.Equal(t, 1, parts[0].Num)
}

func TestParseShowErrors(t *testing.T) {
	_, err := ParseShow("")
	require.ErrorIs(t, err, ErrParse)

	_, err = ParseShow("start size part contents\n 1 2 3 Label: \"X\"\n Type: a\n Bogus: b\n Attr: c\n")
	require.ErrorIs(t, err, ErrParse)

	_, err = ParseShow("start size part contents\n 1 2 3 Label: \"X\"\n Type: a b\n")
	require.ErrorIs(t, err, ErrParse)

	_, err = ParseShow("start size part contents\n 1 2 3 Label: \"X\"\n Type: a\n")
	require.ErrorIs(t, err, ErrParse)
}

func TestPartitionLookups(t *testing.T) {
	parts, err := ParseShow(showOutput)
	require.NoError(t, err)
	disk := &Disk{ImageFile: "img", Partitions: parts}

	kern, err := disk.PartitionByLabel("KERN-A")
	require.NoError(t, err)
	assert.Equal(t, 2, kern.Num)

	_, err = disk.PartitionByLabel("STATE")
	assert.True(t, errors.Is(err, ErrMultiplePartitionLabel))

	_, err = disk.PartitionByLabel("ROOT-A")
	assert.True(t, errors.Is(err, ErrPartitionNotFound))

	minios, err := disk.PartitionsByTypeGUID(MiniOSTypeGUID)
	require.NoError(t, err)
	require.Len(t, minios, 2)
	assert.Equal(t, "MINIOS-B", minios[1].Label)

	_, err = disk.PartitionsByTypeGUID("nope")
	assert.True(t, errors.Is(err, ErrPartitionNotFound))
}

func TestFromImageOnHost(t *testing.T) {
	orig := lookPath
	lookPath = func(string) (string, error) { return "/usr/bin/cgpt", nil }
	t.Cleanup(func() { lookPath = orig })

	runner := testsupport.NewFakeRunner()
	runner.Respond([]string{"cgpt", "show"}, 0, showOutput)

	disk, err := FromImage(context.Background(), runner, "/img.bin", chroot.Chroot{})
	require.NoError(t, err)
	assert.Len(t, disk.Partitions, 5)
	assert.Equal(t, []string{"cgpt show -n /img.bin"}, runner.CommandLines())
}

func TestFromImageEntersChroot(t *testing.T) {
	orig := lookPath
	lookPath = func(string) (string, error) { return "", errors.New("missing") }
	t.Cleanup(func() { lookPath = orig })

	base := t.TempDir()
	sdk := chroot.Chroot{Path: filepath.Join(base, "chroot"), OutPath: filepath.Join(base, "out")}
	runner := testsupport.NewFakeRunner()
	runner.Respond([]string{"cros_sdk"}, 0, showOutput)

	disk, err := FromImage(context.Background(), runner, filepath.Join(sdk.Path, "build/images/img.bin"), sdk)
	require.NoError(t, err)
	assert.Equal(t, "/build/images/img.bin", disk.ImageFile)
	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"cgpt", "show", "-n", "/build/images/img.bin"}, calls[0].Args[len(calls[0].Args)-4:])
}
