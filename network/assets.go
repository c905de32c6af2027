package network

// Role of a provisioned node.
type Role int

const (
	GenesisActive Role = iota
	RotationReserve
)

func (r Role) String() string {
	switch r {
	case GenesisActive:
		return "genesis-active"
	case RotationReserve:
		return "rotation-reserve"
	default:
		return "unknown"
	}
}

// Account is the public half of a generated keypair plus its funding.
type Account struct {
	// Hex encoded, prefixed with the algorithm tag.
	PublicKey string
	// Decimal amount in the smallest unit.
	Balance string
	// Directory holding the key files.
	KeyDir string
}

type NodeAsset struct {
	ID   int
	Role Role
	Account
	// Decimal stake weight; "0" for the rotation reserve.
	StakeWeight string
}

type UserAsset struct {
	ID int
	Account
}

type FaucetAsset struct {
	Account
}

// GenesisRow is one entry of the accounts ledger.
type GenesisRow struct {
	PublicKey   string `toml:"public_key"`
	Balance     string `toml:"balance"`
	StakeWeight string `toml:"bonded_amount"`
}

// GenesisManifest is the ordered accounts ledger consumed at genesis.
type GenesisManifest struct {
	Rows []GenesisRow `toml:"accounts"`
}

// Validators returns the rows with a non-zero stake weight.
func (m *GenesisManifest) Validators() []GenesisRow {
	var out []GenesisRow
	for _, row := range m.Rows {
		if row.StakeWeight != "" && row.StakeWeight != "0" {
			out = append(out, row)
		}
	}
	return out
}
