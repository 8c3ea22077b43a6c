package ledger

// SecurityLevel describes the assurance a settlement rail offers.
type SecurityLevel string

const (
	SecurityLow           SecurityLevel = "low"
	SecurityMedium        SecurityLevel = "medium"
	SecurityHigh          SecurityLevel = "high"
	SecurityCryptographic SecurityLevel = "cryptographic"
)

// DefaultRail is the rail recorded on transfers that do not name one.
const DefaultRail = "fast_rail"

// Rail is a named settlement channel. Its latency, cost and policies are
// descriptive: transfers settle instantly whichever rail they record.
type Rail struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	LatencyMs          int           `json:"latency_ms"`
	CostPerTx          float64       `json:"cost_per_tx"`
	SecurityLevel      SecurityLevel `json:"security_level"`
	ThroughputTxPerSec int           `json:"throughput_tx_per_sec"`
	Active             bool          `json:"is_active"`
	Policies           []string      `json:"policies"`
}

var defaultRails = []Rail{
	{
		ID:                 "fast_rail",
		Name:               "Instant Rail",
		LatencyMs:          20,
		CostPerTx:          0.05,
		SecurityLevel:      SecurityMedium,
		ThroughputTxPerSec: 5000,
		Active:             true,
		Policies:           []string{},
	},
	{
		ID:                 "secure_rail",
		Name:               "Safe Rail",
		LatencyMs:          200,
		CostPerTx:          0.25,
		SecurityLevel:      SecurityCryptographic,
		ThroughputTxPerSec: 200,
		Active:             true,
		Policies:           []string{"L3_REQ"},
	},
}
