// Package manager implements the Manager role: the registry of users, disks,
// and DSSes, file metadata, and the single-slot busy flag arbitrating
// long-running operations. State is a single owned struct (never module
// globals), following the teacher's control-plane convention of passing one
// struct into every dispatch call (generalized here from dittofs's
// share/store registries to this protocol's user/disk/DSS registries).
package manager

import (
	"sort"
	"sync"

	"github.com/rgranger/stripefs/internal/wire"
)

// UserRecord is the Manager's record of a registered user.
type UserRecord struct {
	Name  string
	IP    string
	MPort int
	CPort int
}

// DiskRecord is the Manager's record of a registered disk.
type DiskRecord struct {
	Name  string
	IP    string
	MPort int
	CPort int
	State string // wire.DiskStateFree or wire.DiskInDSSState(dss)
}

// FileMeta mirrors wire.FileMeta; kept as a distinct type so the registry's
// stored records are decoupled from the wire reply shape.
type FileMeta struct {
	Owner    string
	Size     int64
	Checksum string
}

// DSSRecord is the Manager's record of a configured DSS.
type DSSRecord struct {
	Name         string
	N            int
	StripingUnit int
	Disks        []string // ordered; fixes parity placement for the DSS's lifetime
	Files        map[string]FileMeta
}

// Busy is the single-slot record of the in-flight long-running operation.
type Busy struct {
	Op       string // wire.OpNone / OpCopy / OpRead / OpDecommission / OpRecovery
	DSSName  string
	UserName string
}

// State is the Manager's entire mutable registry. Guarded by one mutex: the
// UDP server is single-threaded by construction (internal/udprpc.Server
// processes datagrams serially), but the mutex keeps State safe to also
// read from e.g. a /metrics or ls-over-HTTP path without reasoning about the
// recv goroutine.
type State struct {
	mu    sync.Mutex
	users map[string]*UserRecord
	disks map[string]*DiskRecord
	dsses map[string]*DSSRecord
	busy  Busy
}

// NewState creates an empty registry with the busy flag clear.
func NewState() *State {
	return &State{
		users: make(map[string]*UserRecord),
		disks: make(map[string]*DiskRecord),
		dsses: make(map[string]*DSSRecord),
		busy:  Busy{Op: wire.OpNone},
	}
}

// RegisterUser adds a new user record; fails if the name is already taken.
func (s *State) RegisterUser(name, ip string, mPort, cPort int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[name]; exists {
		return newStateError(wire.CmdRegisterUser, "", ErrDuplicateName)
	}
	s.users[name] = &UserRecord{Name: name, IP: ip, MPort: mPort, CPort: cPort}
	return nil
}

// RegisterDisk adds a new disk record in Free state; fails if the name is
// already taken.
func (s *State) RegisterDisk(name, ip string, mPort, cPort int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.disks[name]; exists {
		return newStateError(wire.CmdRegisterDisk, "", ErrDuplicateName)
	}
	s.disks[name] = &DiskRecord{Name: name, IP: ip, MPort: mPort, CPort: cPort, State: wire.DiskStateFree}
	return nil
}

// DeregisterUser removes a user record; fails if absent.
func (s *State) DeregisterUser(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[name]; !exists {
		return newStateError(wire.CmdDeregisterUser, "", ErrNotFound)
	}
	delete(s.users, name)
	return nil
}

// DeregisterDisk removes a disk record; fails if absent or not Free.
func (s *State) DeregisterDisk(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, exists := s.disks[name]
	if !exists {
		return newStateError(wire.CmdDeregisterDisk, "", ErrNotFound)
	}
	if d.State != wire.DiskStateFree {
		return newStateError(wire.CmdDeregisterDisk, "", ErrDiskNotFree)
	}
	delete(s.disks, name)
	return nil
}

// ConfigureDSS validates n/b, selects n Free disks, flips their state, and
// creates the DSS record. It returns the chosen disk names in slot order.
func (s *State) ConfigureDSS(dssName string, n, stripingUnit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.dsses[dssName]; exists {
		return nil, newStateError(wire.CmdConfigureDSS, dssName, ErrDuplicateName)
	}
	if n < 3 {
		return nil, newStateError(wire.CmdConfigureDSS, dssName, ErrInvalidN)
	}
	if !validStripingUnit(stripingUnit) {
		return nil, newStateError(wire.CmdConfigureDSS, dssName, ErrInvalidUnit)
	}
	if !fitsOneDatagram(stripingUnit) {
		return nil, newStateError(wire.CmdConfigureDSS, dssName, ErrUnitTooLarge)
	}

	free := s.freeDisksLocked()
	if len(free) < n {
		return nil, newStateError(wire.CmdConfigureDSS, dssName, ErrNotEnoughFree)
	}

	// Selection need not be deterministic across calls (spec.md S9 Open
	// Questions); taking the first n of the sorted Free set is a simple,
	// reproducible choice that still yields n distinct disks.
	chosen := append([]string(nil), free[:n]...)

	for _, name := range chosen {
		s.disks[name].State = wire.DiskInDSSState(dssName)
	}
	s.dsses[dssName] = &DSSRecord{
		Name:         dssName,
		N:            n,
		StripingUnit: stripingUnit,
		Disks:        chosen,
		Files:        make(map[string]FileMeta),
	}
	return chosen, nil
}

func validStripingUnit(b int) bool {
	if b < 128 || b > 1<<20 {
		return false
	}
	return b&(b-1) == 0
}

// maxDatagramBytes is the wire's hard UDP datagram ceiling (spec.md S6).
const maxDatagramBytes = 65000

// fitsOneDatagram rejects a striping_unit at configure-dss time if its
// base64-encoded block plus envelope overhead would not fit in one
// datagram, resolving the spec's named fragmentation Open Question as
// REJECT rather than fragment.
func fitsOneDatagram(b int) bool {
	base64Len := ((b + 2) / 3) * 4
	return base64Len+envelopeOverheadBytes <= maxDatagramBytes
}

// envelopeOverheadBytes is a conservative allowance for the write-block /
// read-block JSON envelope surrounding the base64 block payload (command
// name, correlation id, field names, quoting).
const envelopeOverheadBytes = 512

// freeDisksLocked returns the sorted names of all Free disks. Caller must
// hold s.mu.
func (s *State) freeDisksLocked() []string {
	var free []string
	for name, d := range s.disks {
		if d.State == wire.DiskStateFree {
			free = append(free, name)
		}
	}
	sort.Strings(free)
	return free
}

// Snapshot captures the entire registry for an ls reply.
type Snapshot struct {
	Users     []UserRecord
	Disks     []DiskRecord
	DSSes     []DSSRecord
	FreeDisks []string
}

// Snapshot returns a consistent point-in-time copy of the registry.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{FreeDisks: s.freeDisksLocked()}
	for _, u := range s.users {
		snap.Users = append(snap.Users, *u)
	}
	for _, d := range s.disks {
		snap.Disks = append(snap.Disks, *d)
	}
	for _, dss := range s.dsses {
		cp := *dss
		cp.Disks = append([]string(nil), dss.Disks...)
		cp.Files = make(map[string]FileMeta, len(dss.Files))
		for k, v := range dss.Files {
			cp.Files[k] = v
		}
		snap.DSSes = append(snap.DSSes, cp)
	}
	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].Name < snap.Users[j].Name })
	sort.Slice(snap.Disks, func(i, j int) bool { return snap.Disks[i].Name < snap.Disks[j].Name })
	sort.Slice(snap.DSSes, func(i, j int) bool { return snap.DSSes[i].Name < snap.DSSes[j].Name })
	return snap
}

// diskEndpointsLocked builds the ordered content-port endpoint bundle for a
// DSS's disks. Caller must hold s.mu.
func (s *State) diskEndpointsLocked(dss *DSSRecord) []wire.DiskEndpoint {
	out := make([]wire.DiskEndpoint, len(dss.Disks))
	for i, name := range dss.Disks {
		d := s.disks[name]
		out[i] = wire.DiskEndpoint{DiskName: d.Name, IP: d.IP, CPort: d.CPort}
	}
	return out
}

// CopyPrepare resolves the DSS and returns its layout and endpoint bundle.
// The busy flag is not touched here: the busy guard in manager.go only
// checks it, and the copy-prepare handler sets it after this lookup
// succeeds.
func (s *State) CopyPrepare(dssName string) (n, b int, disks []wire.DiskEndpoint, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dss, ok := s.dsses[dssName]
	if !ok {
		return 0, 0, nil, newStateError(wire.CmdCopyPrepare, dssName, ErrNotFound)
	}
	return dss.N, dss.StripingUnit, s.diskEndpointsLocked(dss), nil
}

// CopyComplete records file metadata on a DSS.
func (s *State) CopyComplete(dssName, fileName, owner string, size int64, checksum string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dss, ok := s.dsses[dssName]
	if !ok {
		return newStateError(wire.CmdCopyComplete, dssName, ErrNotFound)
	}
	dss.Files[fileName] = FileMeta{Owner: owner, Size: size, Checksum: checksum}
	return nil
}

// ReadPrepare resolves the DSS and file, enforcing the owner check.
func (s *State) ReadPrepare(dssName, fileName, userName string) (n, b int, disks []wire.DiskEndpoint, meta FileMeta, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dss, ok := s.dsses[dssName]
	if !ok {
		return 0, 0, nil, FileMeta{}, newStateError(wire.CmdReadPrepare, dssName, ErrNotFound)
	}
	fm, ok := dss.Files[fileName]
	if !ok {
		return 0, 0, nil, FileMeta{}, newStateError(wire.CmdReadPrepare, dssName, ErrFileNotFound)
	}
	if fm.Owner != userName {
		return 0, 0, nil, FileMeta{}, newStateError(wire.CmdReadPrepare, dssName, ErrNotOwner)
	}
	return dss.N, dss.StripingUnit, s.diskEndpointsLocked(dss), fm, nil
}

// DecommissionDSS returns the endpoint bundle for a DSS without mutating
// disk state yet (spec.md S4.2: "Does not change disk state yet").
func (s *State) DecommissionDSS(dssName string) ([]wire.DiskEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dss, ok := s.dsses[dssName]
	if !ok {
		return nil, newStateError(wire.CmdDecommissionDSS, dssName, ErrNotFound)
	}
	return s.diskEndpointsLocked(dss), nil
}

// DecommissionComplete flips every member disk back to Free and deletes the
// DSS record.
func (s *State) DecommissionComplete(dssName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dss, ok := s.dsses[dssName]
	if !ok {
		return newStateError(wire.CmdDecommissionComplete, dssName, ErrNotFound)
	}
	for _, name := range dss.Disks {
		s.disks[name].State = wire.DiskStateFree
	}
	delete(s.dsses, dssName)
	return nil
}

// DiskFailure returns the endpoint bundle and the full file map of a DSS,
// so the user can rebuild every file during the recovery drill. n and b are
// returned alongside so the user can recompute total_stripes per file
// without a separate lookup.
func (s *State) DiskFailure(dssName string) (n, b int, disks []wire.DiskEndpoint, files map[string]FileMeta, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dss, ok := s.dsses[dssName]
	if !ok {
		return 0, 0, nil, nil, newStateError(wire.CmdDiskFailure, dssName, ErrNotFound)
	}
	files = make(map[string]FileMeta, len(dss.Files))
	for k, v := range dss.Files {
		files[k] = v
	}
	return dss.N, dss.StripingUnit, s.diskEndpointsLocked(dss), files, nil
}

// RecoveryComplete only checks that the DSS exists; no registry state
// changes (the user has already rewritten blocks directly to the recovered
// disk). The caller in manager.go clears the busy flag.
func (s *State) RecoveryComplete(dssName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dsses[dssName]; !ok {
		return newStateError(wire.CmdRecoveryComplete, dssName, ErrNotFound)
	}
	return nil
}

// --- busy flag -------------------------------------------------------------

// BusySnapshot returns a copy of the current busy slot.
func (s *State) BusySnapshot() Busy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// SetBusy takes the busy slot. Caller (the dispatch guard) must already have
// established the slot is free.
func (s *State) SetBusy(op, dssName, userName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = Busy{Op: op, DSSName: dssName, UserName: userName}
}

// ClearBusy resets the busy slot to none.
func (s *State) ClearBusy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = Busy{Op: wire.OpNone}
}
