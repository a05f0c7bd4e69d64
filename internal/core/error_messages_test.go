package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "nil error returns empty",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:        "record exists maps to duplicate key",
			err:         fmt.Errorf("create member: %w", ErrRecordExists),
			wantCode:    "DB001",
			wantMessage: "A record with this key already exists",
		},
		{
			name:        "unique constraint maps correctly",
			err:         errors.New("ERROR: unique constraint violated"),
			wantCode:    "DB002",
			wantMessage: "This value must be unique but already exists",
		},
		{
			name:        "connection refused maps correctly",
			err:         errors.New("dial tcp: connection refused"),
			wantCode:    "DB003",
			wantMessage: "Unable to connect to database",
		},
		{
			name:        "unsupported format",
			err:         &DecodeError{Kind: UnsupportedFormat, Extension: ".pdf"},
			wantCode:    "FILE002",
			wantMessage: "Only .csv, .xlsx and .xls files are accepted",
		},
		{
			name:        "malformed file wrapped in parse failure",
			err:         &ValidationError{Kind: ParseFailed, Cause: &DecodeError{Kind: MalformedFile, Cause: ErrEmptyFile}},
			wantCode:    "FILE003",
			wantMessage: "The file could not be read",
		},
		{
			name:        "session not found",
			err:         &ExecutionError{Kind: SessionNotFound, SessionID: "abc"},
			wantCode:    "SES001",
			wantMessage: "The validation session does not exist",
		},
		{
			name:        "session expired",
			err:         &ExecutionError{Kind: SessionExpired, SessionID: "abc"},
			wantCode:    "SES002",
			wantMessage: "The validation session has expired",
		},
		{
			name:        "session in use",
			err:         &ExecutionError{Kind: SessionInUse, SessionID: "abc"},
			wantCode:    "SES003",
			wantMessage: "This session is already being imported",
		},
		{
			name:        "too many jobs",
			err:         ErrTooManyJobs,
			wantCode:    "JOB001",
			wantMessage: "Too many imports in progress",
		},
		{
			name:        "job not found",
			err:         ErrJobNotFound,
			wantCode:    "JOB002",
			wantMessage: "The import job does not exist",
		},
		{
			name:        "unknown entity",
			err:         fmt.Errorf("%w: widgets", ErrUnknownEntity),
			wantCode:    "ENT001",
			wantMessage: "This import type is not configured",
		},
		{
			name:        "deadline exceeded",
			err:         context.DeadlineExceeded,
			wantCode:    "REQ002",
			wantMessage: "Request timed out",
		},
		{
			name:        "rate limit maps correctly",
			err:         errors.New("rate limit exceeded"),
			wantCode:    "RATE001",
			wantMessage: "Too many requests",
		},
		{
			name:        "unknown error returns default",
			err:         errors.New("some random internal error"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
		{
			name:        "case insensitive matching",
			err:         errors.New("DUPLICATE KEY value violates"),
			wantCode:    "DB001",
			wantMessage: "A record with this key already exists",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("MapError() message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error is not user facing", err: nil, want: false},
		{name: "known error is user facing", err: ErrJobNotFound, want: true},
		{name: "unknown error is not user facing", err: errors.New("random internal error xyz"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExecutionErrorKinds(t *testing.T) {
	err := fmt.Errorf("execute: %w", &ExecutionError{Kind: SessionInUse, SessionID: "x"})
	if !IsExecutionError(err, SessionInUse) {
		t.Error("IsExecutionError(SessionInUse) = false, want true")
	}
	if IsExecutionError(err, SessionExpired) {
		t.Error("IsExecutionError(SessionExpired) = true, want false")
	}
	if IsDecodeError(err, MalformedFile) {
		t.Error("IsDecodeError on execution error = true, want false")
	}
}
