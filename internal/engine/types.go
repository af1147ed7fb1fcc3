package engine

// RawStatus is one task record as the engine reports it. aria2 encodes
// every numeric field as a decimal string.
type RawStatus struct {
	GID             string    `json:"gid"`
	Status          string    `json:"status"`
	TotalLength     string    `json:"totalLength"`
	CompletedLength string    `json:"completedLength"`
	DownloadSpeed   string    `json:"downloadSpeed"`
	Connections     string    `json:"connections"`
	ErrorCode       string    `json:"errorCode,omitempty"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	Dir             string    `json:"dir,omitempty"`
	Files           []RawFile `json:"files,omitempty"`
}

// RawFile is one file entry inside a RawStatus.
type RawFile struct {
	Path string   `json:"path"`
	URIs []RawURI `json:"uris,omitempty"`
}

// RawURI is one source URI of a RawFile.
type RawURI struct {
	URI    string `json:"uri"`
	Status string `json:"status,omitempty"`
}

// Options are per-task engine options passed on submission, e.g.
// "dir", "out", "header", "max-download-limit".
type Options map[string]string

// statusKeys is the field projection requested from the engine for
// status queries.
var statusKeys = []string{
	"gid",
	"status",
	"connections",
	"errorCode",
	"errorMessage",
	"downloadSpeed",
	"dir",
	"totalLength",
	"completedLength",
	"files",
}
