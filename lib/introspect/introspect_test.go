package introspect_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/snowmerak/plugscan/lib/descriptor"
	"github.com/snowmerak/plugscan/lib/introspect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findLibc(t *testing.T) string {
	t.Helper()
	for _, p := range []string{
		"/lib/x86_64-linux-gnu/libc.so.6",
		"/usr/lib/x86_64-linux-gnu/libc.so.6",
		"/lib/aarch64-linux-gnu/libc.so.6",
		"/usr/lib64/libc.so.6",
		"/lib64/libc.so.6",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	t.Skip("no shared libc found")
	return ""
}

func TestELF_SharedObject(t *testing.T) {
	libc := findLibc(t)
	e := &introspect.ELF{EntrySymbol: "malloc", FeaturePrefix: "pthread_mutex_"}

	d, err := e.Introspect(context.Background(), libc)
	require.NoError(t, err)

	assert.Equal(t, "c", d.Name)
	assert.Equal(t, libc, d.Filename)
	assert.Equal(t, "libc.so.6", d.Package)
	assert.Equal(t, "6", d.Version)
	assert.NotZero(t, d.Size)
	assert.False(t, d.MTime.IsZero())
	assert.False(t, d.IsPlaceholder())

	names := make([]string, 0, len(d.Features))
	for _, f := range d.Features {
		names = append(names, f.Name)
		assert.NotEmpty(t, f.Kind)
	}
	assert.Contains(t, names, "lock")
	assert.IsIncreasing(t, names)

	_, err = descriptor.Decode(d.Encode())
	assert.NoError(t, err, "introspected descriptors survive the wire layout")
}

func TestELF_MissingEntrySymbol(t *testing.T) {
	libc := findLibc(t)
	_, err := (&introspect.ELF{}).Introspect(context.Background(), libc)
	assert.ErrorIs(t, err, introspect.ErrNoEntryPoint)
}

func TestELF_NotAnAddon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libcorrupt.so")
	require.NoError(t, os.WriteFile(path, []byte("definitely not ELF"), 0o644))

	_, err := (&introspect.ELF{}).Introspect(context.Background(), path)
	assert.ErrorIs(t, err, introspect.ErrNotAddon)
}

func TestELF_MissingFile(t *testing.T) {
	_, err := (&introspect.ELF{}).Introspect(context.Background(), "/nonexistent/libx.so")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestELF_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&introspect.ELF{}).Introspect(ctx, "/whatever.so")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGoPlugin_NotAPlugin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.so")
	require.NoError(t, os.WriteFile(path, []byte{0x7f, 'E', 'L', 'F'}, 0o644))

	_, err := (&introspect.GoPlugin{}).Introspect(context.Background(), path)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	tests := []struct {
		mode    string
		want    any
		wantErr bool
	}{
		{"", &introspect.ELF{}, false},
		{introspect.ModeELF, &introspect.ELF{}, false},
		{introspect.ModeGoPlugin, &introspect.GoPlugin{}, false},
		{"wasm", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			got, err := introspect.New(tt.mode, introspect.Options{})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, got)
		})
	}
}

func TestFunc(t *testing.T) {
	var f introspect.Introspector = introspect.Func(func(_ context.Context, path string) (*descriptor.Descriptor, error) {
		return &descriptor.Descriptor{Name: descriptor.NameFromPath(path)}, nil
	})
	d, err := f.Introspect(context.Background(), "/a/libfoo.so")
	require.NoError(t, err)
	assert.Equal(t, "foo", d.Name)
}
