package constants

const (
	DEFAULT_JOURNAL_LIMIT = 100
	MAX_JOURNAL_LIMIT     = 1000

	MAX_EXTERNAL_NUMBER_LENGTH = 128
	MAX_DOCUMENT_REF_LENGTH    = 512
	MAX_PURPOSE_LENGTH         = 256
	MAX_DELEGATION_DAYS        = 3650

	DEFAULT_RETRY_MAX_ATTEMPTS = 5
	MAX_RETRY_MAX_ATTEMPTS     = 10
)
