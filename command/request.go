package command

import (
	"fmt"
	"io"
	"path/filepath"
	"time"
)

// Request describes a single command to run. Requests are immutable
// once built; the guard never mutates one after Execute is called, so
// a request may be reused across calls.
type Request struct {
	// Argv is the full command line. Argv[0] is the program as the
	// caller invoked it; the allowlist is keyed on its base name, so
	// "/usr/bin/python3" and "python3" resolve to the same policy.
	Argv []string

	// Dir is the working directory. When the guard has a workspace
	// root configured, Dir must resolve inside it. Empty means the
	// process inherits the guard's current directory.
	Dir string

	// Timeout is the maximum wall-clock time. Zero means the policy
	// default; values above the policy ceiling are clamped, never
	// rejected.
	Timeout time.Duration

	// Stdin provides input to the command. Nil means no input.
	Stdin io.Reader

	// Env adds extra environment variables on top of the minimal base
	// environment and the policy's pass-through set.
	Env map[string]string

	// Metadata carries arbitrary key-value pairs into audit records
	// and trace spans.
	Metadata map[string]string
}

// Program returns the base name of Argv[0], the key the allowlist is
// consulted with. Empty if the request has no argv.
func (r *Request) Program() string {
	if len(r.Argv) == 0 {
		return ""
	}
	return filepath.Base(r.Argv[0])
}

// Args returns the arguments after Argv[0].
func (r *Request) Args() []string {
	if len(r.Argv) <= 1 {
		return nil
	}
	return r.Argv[1:]
}

// String returns a loggable representation of the command line.
func (r *Request) String() string {
	if len(r.Argv) == 0 {
		return "(empty)"
	}
	return fmt.Sprintf("%v", r.Argv)
}

// RequestBuilder provides a fluent API for constructing requests.
type RequestBuilder struct {
	req *Request
	err error
}

// NewRequest creates a RequestBuilder for the given command line.
func NewRequest(argv ...string) *RequestBuilder {
	return &RequestBuilder{
		req: &Request{
			Argv:     argv,
			Env:      make(map[string]string),
			Metadata: make(map[string]string),
		},
	}
}

// WithDir sets the working directory.
func (b *RequestBuilder) WithDir(dir string) *RequestBuilder {
	if b.err != nil {
		return b
	}
	b.req.Dir = dir
	return b
}

// WithTimeout sets the execution timeout.
func (b *RequestBuilder) WithTimeout(timeout time.Duration) *RequestBuilder {
	if b.err != nil {
		return b
	}
	if timeout < 0 {
		b.err = fmt.Errorf("%w: timeout must not be negative", ErrInvalidRequest)
		return b
	}
	b.req.Timeout = timeout
	return b
}

// WithStdin sets the standard input reader.
func (b *RequestBuilder) WithStdin(stdin io.Reader) *RequestBuilder {
	if b.err != nil {
		return b
	}
	b.req.Stdin = stdin
	return b
}

// WithEnv adds one extra environment variable.
func (b *RequestBuilder) WithEnv(key, value string) *RequestBuilder {
	if b.err != nil {
		return b
	}
	b.req.Env[key] = value
	return b
}

// WithMetadata adds metadata carried into audit records.
func (b *RequestBuilder) WithMetadata(key, value string) *RequestBuilder {
	if b.err != nil {
		return b
	}
	b.req.Metadata[key] = value
	return b
}

// Build validates and returns the request.
func (b *RequestBuilder) Build() (*Request, error) {
	if b.err != nil {
		return nil, b.err
	}

	if len(b.req.Argv) == 0 || b.req.Argv[0] == "" {
		return nil, fmt.Errorf("%w: argv must not be empty", ErrInvalidRequest)
	}
	for i, arg := range b.req.Argv {
		for _, c := range arg {
			if c == 0 {
				return nil, fmt.Errorf("%w: argv[%d] contains a null byte", ErrInvalidRequest, i)
			}
		}
	}

	return b.req, nil
}

// MustBuild validates and returns the request, panicking on error.
func (b *RequestBuilder) MustBuild() *Request {
	req, err := b.Build()
	if err != nil {
		panic(err)
	}
	return req
}
