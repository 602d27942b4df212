package handler

import "contramind/internal/proof"

type SignResponse struct {
	SignatureB64 string `json:"signature_b64"`
	PublicKeyB64 string `json:"public_key_b64"`
	DigestHex    string `json:"digest_hex"`
	KID          string `json:"kid"`
}

type VerifyResponse struct {
	Valid bool `json:"valid"`
}

type CertificateResponse struct {
	Valid   bool          `json:"valid"`
	Payload *proof.Claims `json:"payload,omitempty"`
	Error   string        `json:"error,omitempty"`
}

type PubkeyResponse struct {
	KID          string `json:"kid"`
	PublicKeyB64 string `json:"public_key_b64"`
}
