package types

// KeyBackup indexes a client-side-encrypted private key deposited for
// device recovery. The armor itself lives in object storage; only the
// passphrase-encrypted blob ever reaches the server, the passphrase never.
type KeyBackup struct {
	BaseDocument `json:",inline"`
	Fingerprint  string `json:"fingerprint" validate:"required"`
	Email        string `json:"email" validate:"required,email"`
	S3Path       string `json:"s3Path"`
	SizeBytes    int64  `json:"sizeBytes"`
	Created      int64  `json:"created"`
	Modified     int64  `json:"modified,omitempty"`
}

// KeyBackupEnvelope is the CBOR-encoded object stored in S3
type KeyBackupEnvelope struct {
	Fingerprint      string `cbor:"fingerprint"`
	Email            string `cbor:"email"`
	CipherPrivateKey string `cbor:"cipherPrivateKey"` // passphrase-encrypted armored private key
	Created          int64  `cbor:"created"`
}
