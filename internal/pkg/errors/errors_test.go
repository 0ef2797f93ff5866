package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(CodeMalformedInput, "truncated record")

	if err.Code != CodeMalformedInput {
		t.Errorf("expected code=%s, got %s", CodeMalformedInput, err.Code)
	}
	if err.Message != "truncated record" {
		t.Errorf("expected message='truncated record', got %s", err.Message)
	}
	if len(err.Stack) == 0 {
		t.Error("expected stack trace to be captured")
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name:     "simple error",
			err:      New(CodeExport, "scene has no mesh"),
			contains: []string{"EXPORT_FAILED", "scene has no mesh"},
		},
		{
			name: "error with op",
			err: &Error{
				Code:    CodeMalformedInput,
				Message: "bad face",
				Op:      "loader.obj",
			},
			contains: []string{"loader.obj", "MALFORMED_INPUT", "bad face"},
		},
		{
			name: "error with underlying",
			err: &Error{
				Code:    CodeStorage,
				Message: "put failed",
				Err:     fmt.Errorf("connection reset"),
			},
			contains: []string{"put failed", "connection reset"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			str := tt.err.Error()
			for _, c := range tt.contains {
				if !strings.Contains(str, c) {
					t.Errorf("expected error string to contain %q, got: %s", c, str)
				}
			}
		})
	}
}

func TestWrap(t *testing.T) {
	original := fmt.Errorf("original error")
	wrapped := Wrap(original, "processor.upload", "upload failed")

	if wrapped.Code != CodeInternal {
		t.Errorf("expected code=%s, got %s", CodeInternal, wrapped.Code)
	}
	if wrapped.Op != "processor.upload" {
		t.Errorf("expected op='processor.upload', got %s", wrapped.Op)
	}
	if errors.Unwrap(wrapped) != original {
		t.Error("Unwrap should return original error")
	}
	if Wrap(nil, "op", "message") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestWrapPreservesCode(t *testing.T) {
	original := UnsupportedFormat("fbx")
	wrapped := Wrap(original, "processor.convert", "conversion failed")

	if wrapped.Code != CodeUnsupportedFormat {
		t.Errorf("expected code to be preserved as %s, got %s", CodeUnsupportedFormat, wrapped.Code)
	}
	if wrapped.Fields["format"] != "fbx" {
		t.Errorf("expected fields to be preserved, got %v", wrapped.Fields)
	}
}

func TestPipelineConstructors(t *testing.T) {
	cause := fmt.Errorf("boom")

	tests := []struct {
		name string
		err  *Error
		code Code
	}{
		{"UnsupportedFormat", UnsupportedFormat("3mf"), CodeUnsupportedFormat},
		{"MalformedInput", MalformedInput("loader.stl", "record %d truncated", 3), CodeMalformedInput},
		{"InvalidConfig", InvalidConfig("mesh_color", "unparsable color"), CodeInvalidConfig},
		{"RenderContext", RenderContext(cause, "no context"), CodeRenderContext},
		{"Render", Render(cause, "draw failed"), CodeRender},
		{"Export", Export("scene has no mesh"), CodeExport},
		{"Storage", Storage(cause, "storage.put", "models", "models/a.glb"), CodeStorage},
		{"Compression", Compression(cause, "processor.gzip"), CodeCompression},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("expected code=%s, got %s", tt.code, tt.err.Code)
			}
			if !IsCode(fmt.Errorf("outer: %w", tt.err), tt.code) {
				t.Errorf("expected IsCode to see %s through fmt wrapping", tt.code)
			}
		})
	}

	t.Run("MalformedInput carries op", func(t *testing.T) {
		err := MalformedInput("loader.obj", "face references vertex %d", 9)
		if err.Op != "loader.obj" {
			t.Errorf("expected op='loader.obj', got %s", err.Op)
		}
		if err.Message != "face references vertex 9" {
			t.Errorf("unexpected message: %s", err.Message)
		}
	})

	t.Run("Storage fields", func(t *testing.T) {
		err := Storage(cause, "storage.head", "public", "images/x.webp")
		if err.Fields["bucket"] != "public" || err.Fields["key"] != "images/x.webp" {
			t.Errorf("expected bucket/key fields, got %v", err.Fields)
		}
		if Storage(nil, "storage.head", "b", "k") != nil {
			t.Error("Storage(nil) should return nil")
		}
	})
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code   Code
		status int
	}{
		{CodeValidation, 400},
		{CodeMalformedInput, 400},
		{CodeInvalidConfig, 400},
		{CodeNotFound, 404},
		{CodeUnsupportedFormat, 415},
		{CodeExport, 422},
		{CodeInternal, 500},
		{CodeRender, 500},
		{CodeRenderContext, 503},
		{CodeTimeout, 504},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "test")
			if err.HTTPStatus() != tt.status {
				t.Errorf("expected status=%d, got %d", tt.status, err.HTTPStatus())
			}
		})
	}

	if GetHTTPStatus(fmt.Errorf("standard")) != 500 {
		t.Error("expected status=500 for standard error")
	}
}

func TestGetCode(t *testing.T) {
	if GetCode(New(CodeNotFound, "not found")) != CodeNotFound {
		t.Error("expected NOT_FOUND")
	}
	if GetCode(fmt.Errorf("standard error")) != CodeInternal {
		t.Error("expected INTERNAL_ERROR for standard error")
	}
	if !IsNotFound(NotFound("object", "uploads/a.stl")) {
		t.Error("expected IsNotFound to return true")
	}
	if !IsValidation(ValidationField("key", "empty")) {
		t.Error("expected IsValidation to return true")
	}
}

func TestStackTrace(t *testing.T) {
	err := New(CodeInternal, "test error")

	stack := err.StackTrace()
	if !strings.Contains(stack, ".go:") {
		t.Errorf("expected stack trace to contain file references, got: %s", stack)
	}
}

func TestErrorIs(t *testing.T) {
	err1 := New(CodeRender, "error 1")
	err2 := New(CodeRender, "error 2")
	err3 := New(CodeExport, "error 3")

	if !errors.Is(err1, err2) {
		t.Error("expected errors with same code to match with Is")
	}
	if errors.Is(err1, err3) {
		t.Error("expected errors with different codes to not match")
	}

	var target *Error
	if !As(fmt.Errorf("wrapped: %w", err3), &target) || target.Code != CodeExport {
		t.Error("expected As to find Error in chain")
	}
}
