// Package cgpt reads GPT partition tables from ChromiumOS disk images using
// `cgpt show`.
package cgpt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"chromite/internal/chroot"
	"chromite/internal/services"
)

// MiniOSTypeGUID is the partition type of MiniOS kernels.
const MiniOSTypeGUID = "09845860-705F-4BB5-B16C-8A8A099CAF52"

// SectorSize is the unit cgpt reports start and size in.
const SectorSize = 512

var (
	// ErrParse reports cgpt output that does not match the expected layout.
	ErrParse = errors.New("cgpt: unexpected output")
	// ErrMultiplePartitionLabel reports a label shared by several partitions.
	ErrMultiplePartitionLabel = errors.New("cgpt: duplicate partition label")
	// ErrPartitionNotFound reports a label or type with no partition.
	ErrPartitionNotFound = errors.New("cgpt: partition not found")
)

var lookPath = exec.LookPath

// Partition is one entry of the table, sizes in sectors.
type Partition struct {
	Num   int
	Label string
	Start int64
	Size  int64
	Type  string
	UUID  string
	Attr  string
}

// SizeBytes returns the partition size in bytes.
func (p Partition) SizeBytes() uint64 {
	return uint64(p.Size) * SectorSize
}

// Disk is a parsed partition table in table order.
type Disk struct {
	ImageFile  string
	Partitions []Partition
}

// ParseShow parses `cgpt show -n` output.
func ParseShow(output string) ([]Partition, error) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	if !scanner.Scan() || strings.Join(strings.Fields(scanner.Text()), " ") != "start size part contents" {
		return nil, fmt.Errorf("%w: unable to find header in cgpt output", ErrParse)
	}

	var parts []Partition
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "Label:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 5 {
			return nil, fmt.Errorf("%w: unexpected partition line %q", ErrParse, line)
		}
		start, err1 := strconv.ParseInt(fields[0], 10, 64)
		size, err2 := strconv.ParseInt(fields[1], 10, 64)
		num, err3 := strconv.Atoi(fields[2])
		if err := errors.Join(err1, err2, err3); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		part := Partition{Num: num, Start: start, Size: size, Label: strings.Trim(fields[4], `"`)}

		for i := 0; i < 3; i++ {
			if !scanner.Scan() {
				return nil, fmt.Errorf("%w: truncated partition %d", ErrParse, num)
			}
			kv := strings.Fields(scanner.Text())
			if len(kv) != 2 {
				return nil, fmt.Errorf("%w: unexpected line %q", ErrParse, scanner.Text())
			}
			switch kv[0] {
			case "Type:":
				part.Type = kv[1]
			case "UUID:":
				part.UUID = kv[1]
			case "Attr:":
				part.Attr = kv[1]
			default:
				return nil, fmt.Errorf("%w: unexpected partition value %q", ErrParse, strings.TrimSpace(scanner.Text()))
			}
		}
		parts = append(parts, part)
	}
	return parts, scanner.Err()
}

// FromImage reads the partition table of image. When cgpt is not installed on
// the host the command runs inside the chroot.
func FromImage(ctx context.Context, runner services.Runner, image string, sdk chroot.Chroot) (*Disk, error) {
	cmd := services.Command{Args: []string{"cgpt", "show", "-n", image}, Capture: true, Check: true}
	if _, err := lookPath("cgpt"); err != nil {
		inside, perr := sdk.ChrootPath(image)
		if perr != nil {
			return nil, perr
		}
		cmd = sdk.Command([]string{"cgpt", "show", "-n", inside}, chroot.RunOptions{Capture: true, Check: true})
		image = inside
	}
	res, err := runner.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	parts, err := ParseShow(res.Stdout)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "cgpt", "parse", image, err)
	}
	return &Disk{ImageFile: image, Partitions: parts}, nil
}

// PartitionByLabel returns the unique partition with label.
func (d *Disk) PartitionByLabel(label string) (Partition, error) {
	var found *Partition
	for i := range d.Partitions {
		if d.Partitions[i].Label != label {
			continue
		}
		if found != nil {
			return Partition{}, fmt.Errorf("%w: %s", ErrMultiplePartitionLabel, label)
		}
		found = &d.Partitions[i]
	}
	if found == nil {
		return Partition{}, fmt.Errorf("%w: %s", ErrPartitionNotFound, label)
	}
	return *found, nil
}

// PartitionsByTypeGUID returns every partition of the given type.
func (d *Disk) PartitionsByTypeGUID(guid string) ([]Partition, error) {
	var out []Partition
	for _, p := range d.Partitions {
		if p.Type == guid {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: type %s", ErrPartitionNotFound, guid)
	}
	return out, nil
}
