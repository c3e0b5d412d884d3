package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fsidx/internal/fserr"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("STORAGE", "resync failed", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "STORAGE", resp.Error.Code)
	assert.Equal(t, "resync failed", resp.Error.Message)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success("Index ready")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Index ready")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	err := formatter.Error("INTEGRITY", "bad descriptor", map[string]string{"pid": "demo:1"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [INTEGRITY]: bad descriptor")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			diag := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    out,
				ErrWriter: diag,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("resync %s", "demo:1")

			assert.Empty(t, out.String(), "diagnostics never go to the JSON stream")
			if tt.wantLog {
				assert.Contains(t, diag.String(), "resync demo:1")
			} else {
				assert.Empty(t, diag.String())
			}
		})
	}
}

func TestOutputFormatter_Fail(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	cause := fserr.Integrity("resync", "demo:1", "not inline")
	err := formatter.Fail("resync", cause)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.True(t, exitErr.Reported)
	assert.Equal(t, ExitFailure, exitErr.Code)
	assert.ErrorIs(t, err, cause)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INTEGRITY", resp.Error.Code)
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fserr.New(fserr.CodeConfiguration, "load", "bad"), ExitCommandError},
		{fserr.New(fserr.CodeUnrecognizedField, "find", "colour"), ExitCommandError},
		{fserr.New(fserr.CodeSessionNotFound, "resume", "gone"), ExitCommandError},
		{fserr.ObjectNotFound("resync", "demo:9", errors.New("no such object")), ExitCommandError},
		{fserr.PoolExhausted("acquire", "no connection"), ExitUnavailable},
		{fserr.Connectivity("acquire", errors.New("refused")), ExitUnavailable},
		{fserr.Storage("delete", "demo:1", errors.New("locked")), ExitFailure},
		{errors.New("plain"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.err), func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCodeFor(tt.err))
			assert.Equal(t, tt.want, GetExitCode(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}
}

func TestGetExitCode_ExitError(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewExitError(ExitCommandError, "bad flags"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "STORAGE", ErrorCode(fserr.Storage("op", "", errors.New("x"))))
	assert.Equal(t, "ERROR", ErrorCode(errors.New("x")))
	assert.Equal(t, "OBJECT_NOT_FOUND", ErrorCode(fserr.ObjectNotFound("update", "demo:9", errors.New("x"))))
}
