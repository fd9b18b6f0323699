package ports

// Wallet exposes the bot's own key material.
type Wallet interface {
	// PublicIdentity returns the wallet address in its canonical text form.
	PublicIdentity() string
	// Sign signs msg with the wallet's private key.
	Sign(msg []byte) ([]byte, error)
}
