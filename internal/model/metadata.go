package model

// Channels a money movement can travel through. External channels are recorded
// as metadata only; nothing here talks to a payment network.
const (
	ChannelInternal = "internal"
	ChannelCash     = "cash"
	ChannelWire     = "wire"
	ChannelCrypto   = "crypto"
	ChannelPayPal   = "paypal"
)

// Metadata carries channel specific payment details. Exactly one of the
// detail pointers is expected to match Channel; the rest stay nil.
type Metadata struct {
	Channel string         `json:"channel,omitempty"`
	Wire    *WireDetails   `json:"wire,omitempty"`
	Crypto  *CryptoDetails `json:"crypto,omitempty"`
	PayPal  *PayPalDetails `json:"paypal,omitempty"`
	Reason  string         `json:"reason,omitempty"`
}

type WireDetails struct {
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	SwiftCode     string `json:"swift_code,omitempty"`
	RoutingNumber string `json:"routing_number,omitempty"`
	Country       string `json:"country,omitempty"`
}

type CryptoDetails struct {
	Network       string `json:"network"`
	WalletAddress string `json:"wallet_address"`
}

type PayPalDetails struct {
	Email string `json:"email"`
}

// Valid reports whether the populated detail block matches the channel.
func (m Metadata) Valid() bool {
	switch m.Channel {
	case "", ChannelInternal, ChannelCash:
		return m.Wire == nil && m.Crypto == nil && m.PayPal == nil
	case ChannelWire:
		return m.Wire != nil && m.Wire.AccountNumber != "" && m.Crypto == nil && m.PayPal == nil
	case ChannelCrypto:
		return m.Crypto != nil && m.Crypto.WalletAddress != "" && m.Wire == nil && m.PayPal == nil
	case ChannelPayPal:
		return m.PayPal != nil && m.PayPal.Email != "" && m.Wire == nil && m.Crypto == nil
	default:
		return false
	}
}
