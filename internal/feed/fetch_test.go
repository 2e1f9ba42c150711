package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	return logrus.NewEntry(l)
}

func skipIfNoGunzip(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("gunzip"); err != nil {
		t.Skip("gunzip not available on PATH")
	}
}

func TestFetchDecompressesAndExtractsTimestamp(t *testing.T) {
	skipIfNoGunzip(t)

	// HD card per spec.md §6's column offsets: extract timestamp at 22..31.
	pad := func(n int) string {
		b := make([]byte, n)
		for i := range b {
			b[i] = ' '
		}
		return string(b)
	}
	card := "HD" + pad(19) + "030620" + "0200" + "F" + "\n"

	gz := filepath.Join(t.TempDir(), "src.gz")
	require.NoError(t, writeGzip(gz, []byte(card)))
	body, err := os.ReadFile(gz)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	tmp := t.TempDir()
	res, err := Fetch(context.Background(), Options{
		URL:    srv.URL,
		TmpDir: tmp,
		Prog:   "cifloader",
		Now:    func() time.Time { return time.Date(2023, 6, 3, 2, 0, 0, 0, time.UTC) },
	}, testLogger())
	require.NoError(t, err)

	assert.FileExists(t, res.Path)
	assert.Len(t, res.ExtractTimestampRaw, 10)
	assert.False(t, res.UsedInsecureTLS)
}

func TestRenameDatedAvoidsOverwrite(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2023, 6, 3, 2, 0, 0, 0, time.UTC)

	a := filepath.Join(dir, "a.cif")
	require.NoError(t, os.WriteFile(a, []byte("1"), 0o644))
	first, err := renameDated(a, now)
	require.NoError(t, err)

	b := filepath.Join(dir, "b.cif")
	require.NoError(t, os.WriteFile(b, []byte("2"), 0o644))
	second, err := renameDated(b, now)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.FileExists(t, first)
	assert.FileExists(t, second)
}

// writeGzip writes body gzip-compressed to path using the system gzip, so
// the test exercises the real gunzip round trip rather than Go's own
// compress/gzip (keeping the test honest about the subprocess dependency).
func writeGzip(path string, body []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return err
	}
	cmd := exec.Command("gzip", "-f", tmp)
	if err := cmd.Run(); err != nil {
		return err
	}
	return os.Rename(tmp+".gz", path)
}
