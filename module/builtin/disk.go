package builtin

import "github.com/nestybox/sid/domain"

// DiskModuleName and PartitionModuleName are the SID_NEXT_MOD values
// IDENT resolves a whole disk or one of its partitions to (spec section
// 4.4; scan.Pipeline's IDENT phase prefers the udev DEVTYPE property
// directly when it names one of these two).
const (
	DiskModuleName      = "disk"
	PartitionModuleName = "partition"
)

// diskModule marks a whole-disk device PUBLIC during SCAN_PRE and
// SCAN_CURRENT and reserves it during SCAN_NEXT. It does no
// partition-table probe: both states are set unconditionally.
type diskModule struct{}

// NewDiskModule constructs the reference "disk" type module.
func NewDiskModule() domain.ModuleIface { return diskModule{} }

func (diskModule) Name() string            { return DiskModuleName }
func (diskModule) Kind() domain.ModuleKind { return domain.ModuleKindType }

func (diskModule) Phase(ctx domain.CommandContextIface, req *domain.ModuleRequest) error {
	switch req.Phase {
	case domain.PhaseScanPre, domain.PhaseScanCurrent:
		return ctx.SetReady(domain.StatePublic)
	case domain.PhaseScanNext:
		return ctx.SetReserved(domain.StatePublic)
	default:
		return nil
	}
}

func (diskModule) Error(domain.CommandContextIface, *domain.ModuleRequest) error { return nil }

// partitionModule mirrors diskModule's readiness rules for a partition
// device; it is a distinct type so the two can independently be present
// or absent in a registry and so SID_NEXT_MOD's value is unambiguous
// about which layer a device belongs to.
type partitionModule struct{}

// NewPartitionModule constructs the reference "partition" type module.
func NewPartitionModule() domain.ModuleIface { return partitionModule{} }

func (partitionModule) Name() string            { return PartitionModuleName }
func (partitionModule) Kind() domain.ModuleKind { return domain.ModuleKindType }

func (partitionModule) Phase(ctx domain.CommandContextIface, req *domain.ModuleRequest) error {
	switch req.Phase {
	case domain.PhaseScanPre, domain.PhaseScanCurrent:
		return ctx.SetReady(domain.StatePublic)
	case domain.PhaseScanNext:
		return ctx.SetReserved(domain.StatePublic)
	default:
		return nil
	}
}

func (partitionModule) Error(domain.CommandContextIface, *domain.ModuleRequest) error { return nil }
