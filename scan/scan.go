// Package scan implements the scan pipeline (C7): it drives a device
// through the fixed phase sequence, fanning out to block modules at every
// phase and to the matched type module(s) for the current/next device
// layer, and owns the INIT-phase sysfs-hierarchy refresh and the IDENT
// phase's /proc/devices driver resolution.
package scan

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nestybox/sid/command"
	"github.com/nestybox/sid/delta"
	"github.com/nestybox/sid/domain"
	"github.com/nestybox/sid/keycodec"
)

// Pipeline drives one command's scan through domain.Order.
type Pipeline struct {
	Store    domain.Store
	Registry domain.ModuleRegistry
	IO       domain.IOServiceIface
}

// New constructs a Pipeline.
func New(store domain.Store, registry domain.ModuleRegistry, io domain.IOServiceIface) *Pipeline {
	return &Pipeline{Store: store, Registry: registry, IO: io}
}

// Run walks ctx through every phase of domain.Order in order, invoking
// module callbacks per the fan-out rule in spec section 4.4. It returns
// the last module-reported error, if any, but always finishes the walk
// through to PhaseExit -- a failed phase enters PhaseError (exactly once)
// rather than aborting the pipeline early.
func (p *Pipeline) Run(ctx *command.Context, devNo domain.DevNo, nextMod string) error {
	p.importUdevEnv(ctx, devNo)

	var lastErr error
	var currentMod string

	for _, phase := range domain.Order {
		ctx.SetPhase(phase)
		req := &domain.ModuleRequest{Phase: phase, DevNo: devNo}

		var phaseErr error
		switch phase {
		case domain.PhaseInit:
			phaseErr = p.runInit(ctx, devNo)
		case domain.PhaseExit:
			// core-only, nothing further to do.
		default:
			if phase == domain.PhaseIdent {
				phaseErr = p.runIdent(ctx, devNo)
				if phaseErr == nil {
					// IDENT resolves (or confirms) the device's own,
					// "current" layer module; it is fixed for the rest of
					// this walk. Fall back to a caller-supplied hint when
					// IDENT itself couldn't resolve anything.
					if resolved, ok := p.Store.Get(p.nextModKey(devNo)); ok {
						currentMod = string(resolved.Blob())
					} else {
						currentMod = nextMod
					}
				}
			}
			req.CurrentMod = currentMod

			if phase >= domain.PhaseScanNext {
				// The "next" layer module is re-read live every phase from
				// SCAN_NEXT onward (spec section 4.4): a SCAN_PRE/
				// SCAN_CURRENT module may have overwritten SID_NEXT_MOD to
				// redirect it away from CurrentMod.
				req.NextMod = nextMod
				if resolved, ok := p.Store.Get(p.nextModKey(devNo)); ok {
					req.NextMod = string(resolved.Blob())
				}
			}

			if phaseErr == nil {
				phaseErr = p.fanOut(ctx, req)
			}
		}

		if phaseErr != nil {
			lastErr = phaseErr
			logrus.Errorf("scan: phase %s failed for %v: %v", phase, devNo, phaseErr)
			if phase != domain.PhaseInit && phase != domain.PhaseExit {
				if ctx.EnterErrorPhase() {
					p.runErrorHandlers(ctx, req)
				}
			} else {
				// Errors during INIT/EXIT are fatal to the command (spec
				// section 7); stop walking further phases.
				ctx.Fail()
				return phaseErr
			}
		}
	}

	return lastErr
}

// fanOut invokes every block module in registration order, then the
// matched type module for the current layer and, from SCAN_NEXT onward,
// the (possibly distinct) matched type module for the next layer -- the
// two-slot fan-out of spec section 4.4.
func (p *Pipeline) fanOut(ctx *command.Context, req *domain.ModuleRequest) error {
	for _, m := range p.Registry.BlockModules() {
		ctx.SetOwner(m.Name())
		if err := m.Phase(ctx, req); err != nil {
			return fmt.Errorf("block module %s: %w", m.Name(), err)
		}
	}

	if err := p.fanOutType(ctx, req, req.CurrentMod); err != nil {
		return err
	}
	if req.NextMod != req.CurrentMod {
		if err := p.fanOutType(ctx, req, req.NextMod); err != nil {
			return err
		}
	}

	return nil
}

func (p *Pipeline) fanOutType(ctx *command.Context, req *domain.ModuleRequest, name string) error {
	if name == "" {
		return nil
	}
	tm, ok := p.Registry.TypeModule(name)
	if !ok {
		return nil
	}
	ctx.SetOwner(tm.Name())
	if err := tm.Phase(ctx, req); err != nil {
		return fmt.Errorf("type module %s: %w", tm.Name(), err)
	}
	return nil
}

func (p *Pipeline) runErrorHandlers(ctx *command.Context, req *domain.ModuleRequest) {
	for _, m := range p.Registry.BlockModules() {
		ctx.SetOwner(m.Name())
		if err := m.Error(ctx, req); err != nil {
			logrus.Warnf("scan: error handler for module %s itself failed: %v", m.Name(), err)
		}
	}
	for i, name := range []string{req.CurrentMod, req.NextMod} {
		if name == "" || (i == 1 && name == req.CurrentMod) {
			continue
		}
		if tm, ok := p.Registry.TypeModule(name); ok {
			ctx.SetOwner(tm.Name())
			if err := tm.Error(ctx, req); err != nil {
				logrus.Warnf("scan: error handler for module %s itself failed: %v", tm.Name(), err)
			}
		}
	}
}

// importUdevEnv stamps the command's udev environment into the UDEV
// namespace, one blob record per KEY=VALUE pair, owned by "core" (spec
// section 4.4's "udev-env import" and section 8 scenario 1's
// `:U:8_0::ACTION = "add"` expectation).
func (p *Pipeline) importUdevEnv(ctx *command.Context, devNo domain.DevNo) {
	ctx.SetOwner("core")
	for k, v := range ctx.RequestEnv {
		key := keycodec.Key{
			Ns:     keycodec.NsUdev,
			NsPart: nsPart(devNo),
			Core:   k,
		}.Compose()
		_, _, err := p.Store.Set(key, domain.Record{
			Owner:   "core",
			Payload: [][]byte{[]byte(v)},
		}, domain.MergeOpCopy, func(domain.Record, bool, domain.Record) bool { return true })
		if err != nil {
			logrus.Warnf("scan: importing udev env %s for %v: %v", k, devNo, err)
		}
	}
}

// runInit seeds #RDY/#RES to UNPROCESSED if absent, then refreshes the
// device-hierarchy GMB relation from sysfs (spec section 4.4).
func (p *Pipeline) runInit(ctx *command.Context, devNo domain.DevNo) error {
	ctx.SetOwner("core")
	ctx.EnsureUnprocessed()

	related, err := p.relatedDevices(devNo)
	if err != nil {
		logrus.Warnf("scan: hierarchy lookup for %v failed: %v", devNo, err)
		return nil
	}
	if len(related) == 0 {
		return nil
	}

	key := keycodec.Key{
		Dom:    keycodec.DomLyr,
		Ns:     keycodec.NsDevice,
		NsPart: nsPart(devNo),
		ID:     nsPart(devNo),
		Core:   domain.CoreGroupMembers,
	}.Compose()

	elems := make([][]byte, len(related))
	for i, r := range related {
		elems[i] = []byte(r)
	}

	_, _, _, err = delta.Apply(p.Store, key, keycodec.OpSet, "core", elems, delta.WithRelation)
	return err
}

// relatedDevices reads /sys/dev/block/<major>:<minor>/slaves for a whole
// disk, or the parent device's major:minor for a partition (spec section
// 4.4), returning each related device's major_minor string.
func (p *Pipeline) relatedDevices(devNo domain.DevNo) ([]string, error) {
	base := fmt.Sprintf("/sys/dev/block/%d:%d", devNo.Major, devNo.Minor)

	slavesNode := p.IO.NewIOnode("slaves", base+"/slaves", 0)
	entries, err := slavesNode.ReadDirAll()
	if err == nil && len(entries) > 0 {
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			dev, derr := p.readChildDevno(base + "/slaves/" + e.Name())
			if derr != nil {
				continue
			}
			out = append(out, dev)
		}
		return out, nil
	}

	parentDev, err := p.readChildDevno(base + "/..")
	if err != nil {
		return nil, nil
	}
	return []string{parentDev}, nil
}

func (p *Pipeline) readChildDevno(path string) (string, error) {
	node := p.IO.NewIOnode("dev", path+"/dev", 0)
	line, err := node.ReadLine()
	if err != nil {
		return "", err
	}
	line = strings.TrimSpace(line)
	line = strings.ReplaceAll(line, ":", "_")
	return line, nil
}

// runIdent resolves the device's driver/type module name from a prior
// DEVICE record, falling back to scanning /proc/devices for the Block
// section (spec section 4.4).
func (p *Pipeline) runIdent(ctx *command.Context, devNo domain.DevNo) error {
	ctx.SetOwner("core")

	nextModKey := p.nextModKey(devNo)

	if _, ok := p.Store.Get(nextModKey); ok {
		return nil // already resolved; nothing to do
	}

	// udev's own DEVTYPE property already distinguishes a whole disk from
	// one of its partitions; trust it directly rather than re-deriving the
	// same fact from /proc/devices when it is available.
	if devType := ctx.RequestEnv["DEVTYPE"]; devType == "disk" || devType == "partition" {
		return p.storeNextMod(nextModKey, devType)
	}

	name, err := p.resolveDriverName(devNo)
	if err != nil {
		// Driver identification is best-effort: a device /proc/devices
		// doesn't recognize simply scans with no type module attached.
		logrus.Debugf("scan: IDENT could not resolve a driver for %v: %v", devNo, err)
		return nil
	}

	return p.storeNextMod(nextModKey, name)
}

func (p *Pipeline) storeNextMod(key, name string) error {
	_, _, err := p.Store.Set(key, domain.Record{
		Owner:   "core",
		Payload: [][]byte{[]byte(name)},
	}, domain.MergeOpCopy, func(domain.Record, bool, domain.Record) bool { return true })
	return err
}

// resolveDriverName scans /proc/devices' "Block devices:" section for a
// line "<major> <name>" matching devNo.Major.
func (p *Pipeline) resolveDriverName(devNo domain.DevNo) (string, error) {
	node := p.IO.NewIOnode("devices", "/proc/devices", 0)
	content, err := node.ReadFile()
	if err != nil {
		return "", fmt.Errorf("scan: reading /proc/devices: %w", err)
	}

	scanner := bufio.NewScanner(strings.NewReader(string(content)))
	inBlockSection := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "Block devices:") {
			inBlockSection = true
			continue
		}
		if strings.HasPrefix(line, "Character devices:") {
			inBlockSection = false
			continue
		}
		if !inBlockSection {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		major, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			continue
		}
		if uint32(major) == devNo.Major {
			return fields[1], nil
		}
	}

	return "", fmt.Errorf("scan: no driver found for major %d", devNo.Major)
}

// nextModKey is the DEVICE-namespace key IDENT writes the resolved
// type-module name to.
func (p *Pipeline) nextModKey(devNo domain.DevNo) string {
	return keycodec.Key{
		Ns:     keycodec.NsDevice,
		NsPart: nsPart(devNo),
		ID:     nsPart(devNo),
		Core:   domain.CoreNextMod,
	}.Compose()
}

func nsPart(devNo domain.DevNo) string {
	return fmt.Sprintf("%d_%d", devNo.Major, devNo.Minor)
}
