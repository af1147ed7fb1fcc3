package store

import "encoding/json"

// Category is one schedulable group of downloads. Its settings drive
// the scheduler's time-window and speed-limit decisions. GIDList holds
// member task ids in start order.
type Category struct {
	Name            string
	StartTimeEnable bool
	StartTime       string
	EndTimeEnable   bool
	EndTime         string
	Reverse         bool
	LimitEnable     bool
	LimitValue      string
	AfterDownload   string
	GIDList         []string
}

// CategoryPatch is a partial category update. Nil fields leave the
// stored value untouched.
type CategoryPatch struct {
	Name            string
	StartTimeEnable *bool
	StartTime       *string
	EndTimeEnable   *bool
	EndTime         *string
	Reverse         *bool
	LimitEnable     *bool
	LimitValue      *string
	AfterDownload   *string
	GIDList         []string
}

// Download is one row of the download table. Derived display fields
// are stored as the translator rendered them.
type Download struct {
	GID              string
	FileName         string
	Status           string
	Size             string
	DownloadedSize   string
	Percent          string
	Connections      string
	Rate             string
	EstimateTimeLeft string
	Link             string
	FirstTryDate     string
	LastTryDate      string
	Category         string
}

// DownloadPatch is a partial download update keyed by GID. Nil fields
// leave the stored value untouched.
type DownloadPatch struct {
	GID              string
	FileName         *string
	Status           *string
	Size             *string
	DownloadedSize   *string
	Percent          *string
	Connections      *string
	Rate             *string
	EstimateTimeLeft *string
	Link             *string
	FirstTryDate     *string
	LastTryDate      *string
	Category         *string
}

// LinkRequest holds the add-link form state for one download: source
// link, credentials, proxy, limits and the one-shot scheduling fields.
// StartTime, EndTime and AfterDownload are cleared after they fire
// once, so they are nullable. The password fields are write-only:
// InsertLinkRequests moves them to the OS keyring under the row's
// token, and reads leave them empty.
type LinkRequest struct {
	Token            string
	GID              string
	Out              string
	StartTime        *string
	EndTime          *string
	Link             string
	IP               string
	Port             string
	ProxyUser        string
	ProxyPassword    string
	DownloadUser     string
	DownloadPassword string
	Connections      string
	LimitValue       string
	DownloadPath     string
	Referer          string
	LoadCookies      string
	UserAgent        string
	Header           string
	AfterDownload    *string
}

// LinkRequestPatch is a partial link-request update keyed by GID.
type LinkRequestPatch struct {
	GID           string
	Out           *string
	StartTime     *string
	EndTime       *string
	Link          *string
	IP            *string
	Port          *string
	ProxyUser     *string
	DownloadUser  *string
	Connections   *string
	LimitValue    *string
	DownloadPath  *string
	Referer       *string
	LoadCookies   *string
	UserAgent     *string
	Header        *string
	AfterDownload *string
}

// VideoAudioPair tracks a video stream and its matching audio stream
// downloaded separately and muxed after both complete.
type VideoAudioPair struct {
	VideoGID       string
	AudioGID       string
	VideoCompleted bool
	AudioCompleted bool
	MuxingStatus   string
	Checking       bool
	DownloadPath   string
}

// VideoAudioPatch is a partial pair update keyed by VideoGID.
type VideoAudioPatch struct {
	VideoGID       string
	VideoCompleted *bool
	AudioCompleted *bool
	MuxingStatus   *string
	Checking       *bool
	DownloadPath   *string
}

// PluginLink is one submission from a browser extension, queued until
// the main process picks it up.
type PluginLink struct {
	Link        string
	Referer     string
	LoadCookies string
	UserAgent   string
	Header      string
	Out         string
}

// Booleans live in the database as "yes"/"no" text.
func boolToYesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func yesNoToBool(s string) bool {
	return s == "yes"
}

func boolPtrToText(v *bool) *string {
	if v == nil {
		return nil
	}
	s := boolToYesNo(*v)
	return &s
}

// Membership lists are stored as JSON arrays of GIDs.
func encodeGIDList(gids []string) string {
	if gids == nil {
		gids = []string{}
	}
	b, _ := json.Marshal(gids)
	return string(b)
}

func decodeGIDList(s string) []string {
	var gids []string
	if err := json.Unmarshal([]byte(s), &gids); err != nil {
		return []string{}
	}
	return gids
}

func removeGID(gids []string, gid string) []string {
	out := gids[:0]
	for _, g := range gids {
		if g != gid {
			out = append(out, g)
		}
	}
	return out
}

func containsGID(gids []string, gid string) bool {
	for _, g := range gids {
		if g == gid {
			return true
		}
	}
	return false
}
