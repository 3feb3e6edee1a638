package hyperliquid

// Builder fee constants for orders routed through the HyperETH builder.
const (
	// BuilderAddress is the HyperETH builder wallet.
	BuilderAddress = "0x43539fA237e2F20Dbdb9A783bd8d8B5E99cEa4c9"

	// BuilderFee is the builder fee the user approves, 25bp.
	BuilderFee = 25
)

// BuilderFeeInfo is the payload of an approveBuilderFee action.
type BuilderFeeInfo struct {
	Builder string `json:"builder"`
	Fee     int    `json:"fee"`
}

// ApproveBuilderFeeData returns the builder address and fee to use when
// approving the builder fee, which must happen before registering a gateway
// API key.
func ApproveBuilderFeeData() BuilderFeeInfo {
	return BuilderFeeInfo{
		Builder: BuilderAddress,
		Fee:     BuilderFee,
	}
}
