package sprest

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Int64String decodes the API's Edm.Int64 values, which arrive as JSON
// strings ("Length": "1234"), while tolerating plain numbers.
type Int64String int64

func (n *Int64String) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = 0

		return nil
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing int64 value %s: %w", string(data), err)
	}

	*n = Int64String(v)

	return nil
}

// fileInfoResponse mirrors the API's file entity JSON exactly. Callers
// get the normalized FileInfo from toFileInfo() instead.
type fileInfoResponse struct {
	Name              string      `json:"Name"`
	ServerRelativeURL string      `json:"ServerRelativeUrl"`
	Length            Int64String `json:"Length"`
	TimeCreated       time.Time   `json:"TimeCreated"`
	TimeLastModified  time.Time   `json:"TimeLastModified"`
	ETag              string      `json:"ETag"`
	UniqueID          string      `json:"UniqueId"`
	Exists            *bool       `json:"Exists"`
}

// exists reports whether the entity exists. The field is absent from
// partial responses; a 200 without it still means the entity is there.
func (r *fileInfoResponse) exists() bool {
	return r.Exists == nil || *r.Exists
}

func (r *fileInfoResponse) toFileInfo() *FileInfo {
	return &FileInfo{
		Name:               r.Name,
		ServerRelativePath: r.ServerRelativeURL,
		Size:               int64(r.Length),
		Created:            r.TimeCreated,
		Modified:           r.TimeLastModified,
		ETag:               r.ETag,
		UniqueID:           r.UniqueID,
	}
}

// FileInfo is the normalized metadata of one remote file.
type FileInfo struct {
	Name               string
	ServerRelativePath string
	Size               int64
	Created            time.Time
	Modified           time.Time
	ETag               string
	UniqueID           string
}

// childEntry is one folder or file row in a directory listing.
type childEntry struct {
	Name string `json:"Name"`
}

// folderResponse mirrors the folder entity JSON, expanded with its
// immediate children when the request asked for them.
type folderResponse struct {
	Name              string       `json:"Name"`
	ServerRelativeURL string       `json:"ServerRelativeUrl"`
	Exists            *bool        `json:"Exists"`
	Folders           []childEntry `json:"Folders"`
	Files             []childEntry `json:"Files"`
}

func (r *folderResponse) exists() bool {
	return r.Exists == nil || *r.Exists
}

// shareLinkResponse carries the scalar result of a sharing-link call.
type shareLinkResponse struct {
	Value string `json:"value"`
}
