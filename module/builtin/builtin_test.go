package builtin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestybox/sid/command"
	"github.com/nestybox/sid/domain"
	"github.com/nestybox/sid/kv"
	"github.com/nestybox/sid/module"
	"github.com/nestybox/sid/module/builtin"
	"github.com/nestybox/sid/scan"
	"github.com/nestybox/sid/sysio"
)

func TestBlkidModuleStampsFsTypeFromUdevEnv(t *testing.T) {
	registry := module.New()
	require.NoError(t, registry.RegisterBlock(builtin.NewBlkidModule()))

	store := kv.New(1)
	io := sysio.NewIOService(domain.IOMemFileService)
	p := scan.New(store, registry, io)

	ctx := command.New(store, domain.CmdScan, domain.DevNo{Major: 8, Minor: 0})
	ctx.RequestEnv["ID_FS_TYPE"] = "ext4"

	require.NoError(t, p.Run(ctx, domain.DevNo{Major: 8, Minor: 0}, ""))

	key := domain.Key{Dom: domain.DomUsr, Ns: domain.NsDevice, NsPart: "8_0", ID: "8_0", Core: "ID_FS_TYPE"}.Compose()
	rec, ok := store.Get(key)
	require.True(t, ok)
	assert.Equal(t, "ext4", string(rec.Blob()))
	assert.Equal(t, builtin.BlkidModuleName, rec.Owner)
}

func TestBlkidModuleNoOpWithoutUdevFsType(t *testing.T) {
	registry := module.New()
	require.NoError(t, registry.RegisterBlock(builtin.NewBlkidModule()))

	store := kv.New(1)
	io := sysio.NewIOService(domain.IOMemFileService)
	p := scan.New(store, registry, io)

	ctx := command.New(store, domain.CmdScan, domain.DevNo{Major: 8, Minor: 0})
	require.NoError(t, p.Run(ctx, domain.DevNo{Major: 8, Minor: 0}, ""))

	key := domain.Key{Dom: domain.DomUsr, Ns: domain.NsDevice, NsPart: "8_0", ID: "8_0", Core: "ID_FS_TYPE"}.Compose()
	_, ok := store.Get(key)
	assert.False(t, ok)
}

func TestDiskModuleSetsReadyAndReservedAcrossTheWalk(t *testing.T) {
	registry := module.New()
	require.NoError(t, registry.RegisterType(builtin.NewDiskModule()))

	store := kv.New(1)
	io := sysio.NewIOService(domain.IOMemFileService)
	p := scan.New(store, registry, io)

	ctx := command.New(store, domain.CmdScan, domain.DevNo{Major: 8, Minor: 0})
	ctx.RequestEnv["DEVTYPE"] = "disk"

	require.NoError(t, p.Run(ctx, domain.DevNo{Major: 8, Minor: 0}, ""))

	readyKey := domain.Key{Ns: domain.NsDevice, NsPart: "8_0", ID: "8_0", Core: domain.CoreReady}.Compose()
	rec, ok := store.Get(readyKey)
	require.True(t, ok)
	assert.Equal(t, domain.StatePublic, string(rec.Blob()))
	assert.Equal(t, builtin.DiskModuleName, rec.Owner)

	resKey := domain.Key{Ns: domain.NsDevice, NsPart: "8_0", ID: "8_0", Core: domain.CoreReserved}.Compose()
	rec, ok = store.Get(resKey)
	require.True(t, ok)
	assert.Equal(t, domain.StatePublic, string(rec.Blob()))
}

func TestPartitionModuleNameMatchesDevTypeResolution(t *testing.T) {
	registry := module.New()
	require.NoError(t, registry.RegisterType(builtin.NewPartitionModule()))

	store := kv.New(1)
	io := sysio.NewIOService(domain.IOMemFileService)
	p := scan.New(store, registry, io)

	ctx := command.New(store, domain.CmdScan, domain.DevNo{Major: 8, Minor: 1})
	ctx.RequestEnv["DEVTYPE"] = "partition"

	require.NoError(t, p.Run(ctx, domain.DevNo{Major: 8, Minor: 1}, ""))

	readyKey := domain.Key{Ns: domain.NsDevice, NsPart: "8_1", ID: "8_1", Core: domain.CoreReady}.Compose()
	rec, ok := store.Get(readyKey)
	require.True(t, ok)
	assert.Equal(t, builtin.PartitionModuleName, rec.Owner)
}
