package sprest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/sharepoint-go/internal/sperr"
)

const testFileJSON = `{
	"Name": "report.pdf",
	"ServerRelativeUrl": "/sites/s/docs/report.pdf",
	"Length": "2048",
	"TimeCreated": "2024-03-01T10:00:00Z",
	"TimeLastModified": "2024-03-07T12:30:00Z",
	"ETag": "\"{11111111-2222-3333-4444-555555555555},4\"",
	"UniqueId": "11111111-2222-3333-4444-555555555555",
	"Exists": true,
	"CheckOutType": 2
}`

const testFolderJSON = `{
	"Name": "docs",
	"ServerRelativeUrl": "/sites/s/docs",
	"Exists": true,
	"Folders": [{"Name": "archive"}, {"Name": "drafts"}],
	"Files": [{"Name": "a.txt"}, {"Name": "b.txt"}]
}`

// aliasParam extracts and unquotes an OData alias value from the query.
func aliasParam(r *http.Request, key string) string {
	v := r.URL.Query().Get(key)
	v = strings.TrimPrefix(v, "'")
	v = strings.TrimSuffix(v, "'")

	return strings.ReplaceAll(v, "''", "'")
}

func TestStat_DecodesMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/_api/web/GetFileByServerRelativePath(decodedUrl=@p)", r.URL.Path)
		assert.Equal(t, "/sites/s/docs/report.pdf", aliasParam(r, "@p"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(testFileJSON))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	info, err := client.Stat(context.Background(), "/sites/s/docs/report.pdf")
	require.NoError(t, err)

	assert.Equal(t, "report.pdf", info.Name)
	assert.Equal(t, "/sites/s/docs/report.pdf", info.ServerRelativePath)
	assert.Equal(t, int64(2048), info.Size)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), info.Created)
	assert.Equal(t, time.Date(2024, 3, 7, 12, 30, 0, 0, time.UTC), info.Modified)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", info.UniqueID)
}

func TestStat_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Stat(context.Background(), "/sites/s/docs/missing.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, sperr.ErrNotFound)
}

func TestStat_ExistsFalseMeansNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Name": "ghost.pdf", "Exists": false}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Stat(context.Background(), "/sites/s/docs/ghost.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, sperr.ErrNotFound)
}

func TestExists(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(testFileJSON))
		}))
		defer srv.Close()

		client := newTestClient(t, srv.URL)
		ok, err := client.Exists(context.Background(), "/sites/s/docs/report.pdf")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("absent", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		client := newTestClient(t, srv.URL)
		ok, err := client.Exists(context.Background(), "/sites/s/docs/missing.pdf")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("auth errors propagate", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		client := newTestClient(t, srv.URL)
		_, err := client.Exists(context.Background(), "/sites/s/docs/report.pdf")
		require.Error(t, err)
		assert.ErrorIs(t, err, sperr.ErrAuth)
	})
}

func TestOpenRead_StreamsContent(t *testing.T) {
	payload := strings.Repeat("data!", 100)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_api/web/GetFileByServerRelativePath(decodedUrl=@p)/$value", r.URL.Path)
		assert.Equal(t, "/sites/s/docs/report.pdf", aliasParam(r, "@p"))

		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	rc, size, err := client.OpenRead(context.Background(), "/sites/s/docs/report.pdf")
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, string(got))
	assert.Equal(t, int64(len(payload)), size)
}

func TestOpenRead_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, _, err := client.OpenRead(context.Background(), "/sites/s/docs/missing.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, sperr.ErrNotFound)
}

func TestUpload_SingleRequest(t *testing.T) {
	content := "the quick brown fox"

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/_api/web/GetFolderByServerRelativePath(decodedUrl=@d)/Files/Add(url=@n,overwrite=true)", r.URL.Path)
		assert.Equal(t, "/sites/s/docs", aliasParam(r, "@d"))
		assert.Equal(t, "report.pdf", aliasParam(r, "@n"))
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		assert.Equal(t, int64(len(content)), r.ContentLength)

		body, readErr := io.ReadAll(r.Body)
		assert.NoError(t, readErr)
		assert.Equal(t, content, string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(testFileJSON))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	info, err := client.Upload(context.Background(), "/sites/s/docs", "report.pdf", strings.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", info.Name)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUpload_QuotaExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInsufficientStorage)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Upload(context.Background(), "/sites/s/docs", "big.bin", strings.NewReader("x"), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, sperr.ErrQuota)
}

func TestDelete_Recycles(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/_api/web/GetFileByServerRelativePath(decodedUrl=@p)/recycle()", r.URL.Path)
		assert.Equal(t, "/sites/s/docs/old.pdf", aliasParam(r, "@p"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":"recycle-bin-item-guid"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.Delete(context.Background(), "/sites/s/docs/old.pdf")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDelete_MissingFileIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	assert.NoError(t, client.Delete(context.Background(), "/sites/s/docs/gone.pdf"))
}

func TestListDir_SingleRequestServesBothCollections(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		assert.Equal(t, "/_api/web/GetFolderByServerRelativePath(decodedUrl=@d)", r.URL.Path)
		assert.Equal(t, "/sites/s/docs", aliasParam(r, "@d"))
		assert.Equal(t, "Folders,Files", r.URL.Query().Get("$expand"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(testFolderJSON))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	dirs, files, err := client.ListDir(context.Background(), "/sites/s/docs")
	require.NoError(t, err)

	assert.Equal(t, []string{"archive", "drafts"}, dirs)
	assert.Equal(t, []string{"a.txt", "b.txt"}, files)
	assert.Equal(t, int32(1), calls.Load())
}

func TestListDir_MissingFolder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, _, err := client.ListDir(context.Background(), "/sites/s/nowhere")
	require.Error(t, err)
	assert.ErrorIs(t, err, sperr.ErrNotFound)
}

func TestListDir_EmptyFolder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Name": "empty", "Exists": true, "Folders": [], "Files": []}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	dirs, files, err := client.ListDir(context.Background(), "/sites/s/empty")
	require.NoError(t, err)
	assert.Empty(t, dirs)
	assert.Empty(t, files)
}

// newFolderTree builds a fake server that tracks folder existence and
// creation, mimicking the folder endpoints.
func newFolderTree(t *testing.T, existing ...string) (*httptest.Server, func() []string) {
	t.Helper()

	var mu sync.Mutex

	present := make(map[string]bool, len(existing))
	for _, dir := range existing {
		present[dir] = true
	}

	var created []string

	mux := http.NewServeMux()

	mux.HandleFunc("GET /_api/web/GetFolderByServerRelativePath(decodedUrl=@d)", func(w http.ResponseWriter, r *http.Request) {
		dir := aliasParam(r, "@d")

		mu.Lock()
		ok := present[dir]
		mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Name": "x", "Exists": true}`))
	})

	mux.HandleFunc("POST /_api/web/folders", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ServerRelativeURL string `json:"ServerRelativeUrl"`
		}

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		mu.Lock()
		present[req.ServerRelativeURL] = true
		created = append(created, req.ServerRelativeURL)
		mu.Unlock()

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"Exists": true}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	createdSnapshot := func() []string {
		mu.Lock()
		defer mu.Unlock()

		return append([]string(nil), created...)
	}

	return srv, createdSnapshot
}

func TestEnsureFolder_CreatesMissingLevels(t *testing.T) {
	srv, created := newFolderTree(t, "/sites/s", "/sites/s/docs")

	client := newTestClient(t, srv.URL)
	err := client.EnsureFolder(context.Background(), "/sites/s", "/sites/s/docs/a/b")
	require.NoError(t, err)

	assert.Equal(t, []string{"/sites/s/docs/a", "/sites/s/docs/a/b"}, created())
}

func TestEnsureFolder_AllLevelsExist(t *testing.T) {
	srv, created := newFolderTree(t, "/sites/s", "/sites/s/docs", "/sites/s/docs/a")

	client := newTestClient(t, srv.URL)
	err := client.EnsureFolder(context.Background(), "/sites/s", "/sites/s/docs/a")
	require.NoError(t, err)

	assert.Empty(t, created())
}

func TestEnsureFolder_BaseNeedsNothing(t *testing.T) {
	srv, created := newFolderTree(t)

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.EnsureFolder(context.Background(), "/sites/s", "/sites/s"))
	assert.Empty(t, created())
}

func TestEnsureFolder_OutsideBase(t *testing.T) {
	srv, _ := newFolderTree(t)

	client := newTestClient(t, srv.URL)
	err := client.EnsureFolder(context.Background(), "/sites/s", "/sites/other/docs")
	require.Error(t, err)
	assert.ErrorIs(t, err, sperr.ErrInvalidPath)
}

func TestCheckIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/_api/web/GetFileByServerRelativePath(decodedUrl=@p)/CheckIn(comment=@c,checkintype=1)", r.URL.Path)
		assert.Equal(t, "/sites/s/docs/report.pdf", aliasParam(r, "@p"))
		assert.Equal(t, "", aliasParam(r, "@c"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"odata.null":true}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	assert.NoError(t, client.CheckIn(context.Background(), "/sites/s/docs/report.pdf", ""))
}

func TestCheckIn_LibraryWithoutCheckout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"The file is not checked out."}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.CheckIn(context.Background(), "/sites/s/docs/report.pdf", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestShareLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/_api/SP.Web.CreateOrganizationSharingLink", r.URL.Path)

		var req shareLinkRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://contoso.sharepoint.com/sites/s/docs/report.pdf", req.URL)
		assert.False(t, req.IsEditLink)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":"https://contoso.sharepoint.com/:b:/s/share-token"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	link, err := client.ShareLink(context.Background(), "https://contoso.sharepoint.com/sites/s/docs/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://contoso.sharepoint.com/:b:/s/share-token", link)
}

func TestFileURL(t *testing.T) {
	client := NewClient("https://contoso.sharepoint.com/sites/s", nil, staticToken("tok"), nil)

	assert.Equal(t,
		"https://contoso.sharepoint.com/sites/s/docs/report.pdf",
		client.FileURL("/sites/s/docs/report.pdf"),
	)
}

func TestQuoteParam(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/sites/s/docs", "%27%2Fsites%2Fs%2Fdocs%27"},
		{"a b.txt", "%27a%20b.txt%27"},
		{"o'brien.txt", "%27o%27%27brien.txt%27"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, quoteParam(tt.input))
		})
	}
}

func TestInt64String(t *testing.T) {
	t.Run("string form", func(t *testing.T) {
		var v struct {
			Length Int64String `json:"Length"`
		}
		require.NoError(t, json.Unmarshal([]byte(`{"Length": "12345"}`), &v))
		assert.Equal(t, Int64String(12345), v.Length)
	})

	t.Run("numeric form", func(t *testing.T) {
		var v struct {
			Length Int64String `json:"Length"`
		}
		require.NoError(t, json.Unmarshal([]byte(`{"Length": 67}`), &v))
		assert.Equal(t, Int64String(67), v.Length)
	})

	t.Run("null", func(t *testing.T) {
		var v struct {
			Length Int64String `json:"Length"`
		}
		require.NoError(t, json.Unmarshal([]byte(`{"Length": null}`), &v))
		assert.Equal(t, Int64String(0), v.Length)
	})

	t.Run("garbage", func(t *testing.T) {
		var v struct {
			Length Int64String `json:"Length"`
		}
		assert.Error(t, json.Unmarshal([]byte(`{"Length": "12x"}`), &v))
	})
}
