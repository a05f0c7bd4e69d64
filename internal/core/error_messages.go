// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// When users encounter errors, they can quote the error code to support staff
// for faster diagnosis.
//
// Error codes are grouped by category:
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: A record with this key already exists
//	        Action: Enable "update existing" or remove the row from your file
//	        Patterns: "duplicate key"
//
//	DB002 - Unique constraint: This value must be unique but already exists
//	        Action: Check for duplicate entries in your file
//	        Patterns: "unique constraint", "violates unique"
//
//	DB003 - Connection refused: Unable to connect to database
//	        Action: Please try again in a few moments
//	        Patterns: "connection refused"
//
//	DB004 - Connection reset: Database connection was interrupted
//	        Action: Please try again
//	        Patterns: "connection reset"
//
//	DB005 - Deadlock: Database was busy with conflicting operations
//	        Action: Please try again
//	        Patterns: "deadlock"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: File exceeds maximum size limit
//	          Action: Split the file into smaller chunks
//	          Patterns: "file too large", "request body too large"
//
//	FILE002 - Unsupported format: Only .csv, .xlsx and .xls files are accepted
//	          Action: Save the file as CSV or Excel and upload again
//	          Patterns: "unsupported file format"
//
//	FILE003 - Malformed file: The file could not be read
//	          Action: Re-export the file from your spreadsheet tool
//	          Patterns: "malformed file"
//
//	FILE004 - No file: No file was selected
//	          Action: Please select a file to upload
//	          Patterns: "no file provided"
//
// # Session Errors (SES001-SES099)
//
//	SES001 - Session not found: The validation session does not exist
//	         Action: Upload and validate the file again
//	         Patterns: "import session not found"
//
//	SES002 - Session expired: The validation session has expired
//	         Action: Upload and validate the file again
//	         Patterns: "import session expired"
//
//	SES003 - Session in use: This session is already being imported
//	         Action: Poll the running job for progress
//	         Patterns: "import session already executing"
//
// # Job Errors (JOB001-JOB099)
//
//	JOB001 - System busy: Too many imports in progress
//	         Action: Please wait a moment and try again
//	         Patterns: "too many import jobs"
//
//	JOB002 - Job not found: The import job does not exist
//	         Action: Jobs are kept for a limited time after they finish
//	         Patterns: "import job not found"
//
// # Entity Errors (ENT001-ENT099)
//
//	ENT001 - Unknown entity: This import type is not configured
//	         Action: Verify the import type name
//	         Patterns: "unknown entity"
//
//	ENT002 - No store: This import type cannot be written
//	         Action: Contact support
//	         Patterns: "no record store configured"
//
//	ENT003 - Unsupported template: Template format is not supported
//	         Action: Request a csv or xlsx template
//	         Patterns: "unsupported template format"
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Request cancelled: Request was cancelled
//	         Action: Please try again
//	         Patterns: "context canceled"
//
//	REQ002 - Request timeout: Request timed out
//	         Action: Try a smaller file or try again later
//	         Patterns: "context deadline exceeded", "timeout"
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Rate limited: Too many requests
//	          Action: Please wait a moment before trying again
//	          Patterns: "rate limit"
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Please try again or contact support
//
// Patterns are matched case-insensitively using strings.Contains.
// The first matching pattern wins, so specific patterns come first.

package core

import "strings"

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// The first matching pattern wins.
var errorPatterns = []errorPattern{
	// Database
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Enable \"update existing\" or remove the row from your file",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your file",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Review your data for duplicate key values",
			Code:    "DB002",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB004",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},

	// Files
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "request body too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "unsupported file format",
		msg: UserMessage{
			Message: "Only .csv, .xlsx and .xls files are accepted",
			Action:  "Save the file as CSV or Excel and upload again",
			Code:    "FILE002",
		},
	},
	{
		pattern: "malformed file",
		msg: UserMessage{
			Message: "The file could not be read",
			Action:  "Re-export the file from your spreadsheet tool",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a file to upload",
			Code:    "FILE004",
		},
	},

	// Sessions
	{
		pattern: "import session not found",
		msg: UserMessage{
			Message: "The validation session does not exist",
			Action:  "Upload and validate the file again",
			Code:    "SES001",
		},
	},
	{
		pattern: "import session expired",
		msg: UserMessage{
			Message: "The validation session has expired",
			Action:  "Upload and validate the file again",
			Code:    "SES002",
		},
	},
	{
		pattern: "import session already executing",
		msg: UserMessage{
			Message: "This session is already being imported",
			Action:  "Poll the running job for progress",
			Code:    "SES003",
		},
	},

	// Jobs
	{
		pattern: "too many import jobs",
		msg: UserMessage{
			Message: "Too many imports in progress",
			Action:  "Please wait a moment and try again",
			Code:    "JOB001",
		},
	},
	{
		pattern: "import job not found",
		msg: UserMessage{
			Message: "The import job does not exist",
			Action:  "Jobs are kept for a limited time after they finish",
			Code:    "JOB002",
		},
	},

	// Entities
	{
		pattern: "unknown entity",
		msg: UserMessage{
			Message: "This import type is not configured",
			Action:  "Verify the import type name",
			Code:    "ENT001",
		},
	},
	{
		pattern: "no record store configured",
		msg: UserMessage{
			Message: "This import type cannot be written",
			Action:  "Contact support",
			Code:    "ENT002",
		},
	},
	{
		pattern: "unsupported template format",
		msg: UserMessage{
			Message: "Template format is not supported",
			Action:  "Request a csv or xlsx template",
			Code:    "ENT003",
		},
	},

	// Request lifecycle
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "REQ001",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "REQ002",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "REQ002",
		},
	},

	// Rate limiting
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// If no pattern matches, the ERR000 fallback is returned.
//
// Example:
//
//	msg := MapError(ErrRecordExists)
//	// msg.Code == "DB001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// IsUserFacing reports whether err matches a specific pattern rather
// than the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
