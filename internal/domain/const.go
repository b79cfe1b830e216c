package domain

const (
	// Identity constants
	ETHEREUM_ZERO_ADDRESS = "0x0000000000000000000000000000000000000000"

	// Gateway constants
	DEFAULT_IPFS_GATEWAY = "https://ipfs.io"

	// Document reference scheme for content-addressed blobs
	IPFS_REFERENCE_PREFIX = "ipfs://"

	// Latest expiry year a delegation can carry, events encode timestamps as RFC 3339
	MAX_EXPIRY_YEAR = 9999
)
