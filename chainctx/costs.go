package chainctx

// Default limits.
const (
	DefaultStepLimit uint64 = 8_000_000
	DefaultDepth     uint64 = 16
	// perUnitCodeLen is the code size charged one UintDeployCodeLen.
	perUnitCodeLen = 1024
)

// CostTable holds the fixed gas prices of host operations.
type CostTable struct {
	MinTransaction    uint64
	ContractCreate    uint64
	ContractMigrate   uint64
	UintDeployCodeLen uint64
	NativeInvoke      uint64
	StorageGet        uint64
	StoragePut        uint64
	StorageDelete     uint64
	CheckWitness      uint64
	AppCall           uint64
	Sha256            uint64
	Opcode            uint64
	// Host is charged by host functions without a dedicated price.
	Host uint64
}

// DefaultCosts returns the standard price list.
func DefaultCosts() CostTable {
	return CostTable{
		MinTransaction:    20000,
		ContractCreate:    20000000,
		ContractMigrate:   20000000,
		UintDeployCodeLen: 200000,
		NativeInvoke:      1000,
		StorageGet:        200,
		StoragePut:        4000,
		StorageDelete:     100,
		CheckWitness:      200,
		AppCall:           10,
		Sha256:            10,
		Opcode:            1,
		Host:              1,
	}
}

// Sha256Cost prices hashing n bytes.
func (c CostTable) Sha256Cost(n int) uint64 {
	return (uint64(n)/1024 + 1) * c.Sha256
}

// StoragePutCost prices writing a key and value, per started kilobyte.
func (c CostTable) StoragePutCost(keyLen, valLen int) uint64 {
	n := uint64(keyLen + valLen)
	if n == 0 {
		return c.StoragePut
	}
	return ((n-1)/1024 + 1) * c.StoragePut
}

// DeployCost prices storing codeLen bytes of code on create or migrate.
func (c CostTable) DeployCost(migrate bool, codeLen int) uint64 {
	base := c.ContractCreate
	if migrate {
		base = c.ContractMigrate
	}
	return base + uint64(codeLen/perUnitCodeLen)*c.UintDeployCodeLen
}
