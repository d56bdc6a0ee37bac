// Package builtin supplies sid's reference block and type modules: a
// blkid-style block module that republishes udev's own filesystem-type
// detection, and a disk/partition type-module pair that exercises the
// IDENT/SCAN_PRE/SCAN_NEXT readiness and reservation rules end to end
// (spec section 1 puts individual classification modules out of scope,
// defining only the callback contract these implement).
package builtin

import (
	"fmt"

	"github.com/nestybox/sid/domain"
)

// BlkidModuleName is the registered name of the blkid block module.
const BlkidModuleName = "blkid"

// blkidModule stamps USR:DEVICE::ID_FS_TYPE from the udev environment's
// own ID_FS_TYPE property during SCAN_CURRENT. It never invokes an
// external blkid binary -- sid trusts the udev database's classification
// of the device rather than re-probing it (spec section 1's scope note
// that classification logic itself belongs to a pluggable module, not
// the core).
type blkidModule struct{}

// NewBlkidModule constructs the reference blkid block module.
func NewBlkidModule() domain.ModuleIface { return blkidModule{} }

func (blkidModule) Name() string            { return BlkidModuleName }
func (blkidModule) Kind() domain.ModuleKind { return domain.ModuleKindBlock }

func (m blkidModule) Phase(ctx domain.CommandContextIface, req *domain.ModuleRequest) error {
	if req.Phase != domain.PhaseScanCurrent {
		return nil
	}

	devNo := ctx.DevNo()
	udevKey := domain.Key{
		Ns:     domain.NsUdev,
		NsPart: nsPart(devNo),
		Core:   "ID_FS_TYPE",
	}.Compose()

	rec, ok := ctx.Store().Get(udevKey)
	if !ok {
		return nil
	}

	outKey := domain.Key{
		Dom:    domain.DomUsr,
		Ns:     domain.NsDevice,
		NsPart: nsPart(devNo),
		ID:     nsPart(devNo),
		Core:   "ID_FS_TYPE",
	}.Compose()

	_, _, err := ctx.Store().Set(outKey, domain.Record{
		Owner:   m.Name(),
		Payload: [][]byte{rec.Blob()},
	}, domain.MergeOpCopy, func(domain.Record, bool, domain.Record) bool { return true })
	return err
}

func (blkidModule) Error(domain.CommandContextIface, *domain.ModuleRequest) error { return nil }

func nsPart(devNo domain.DevNo) string {
	return fmt.Sprintf("%d_%d", devNo.Major, devNo.Minor)
}
