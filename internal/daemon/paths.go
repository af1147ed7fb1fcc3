package daemon

import (
	"path/filepath"
	"strings"
)

var audioExts = extSet("act", "aiff", "aac", "amr", "ape", "au", "awb", "dct",
	"dss", "dvf", "flac", "gsm", "iklax", "ivs", "m4a", "m4p", "mmf", "mp3",
	"mpc", "msv", "ogg", "oga", "opus", "ra", "raw", "sln", "tta", "vox",
	"wav", "wma", "wv")

var videoExts = extSet("3g2", "3gp", "asf", "avi", "drc", "flv", "m4v", "mkv",
	"mng", "mov", "qt", "mp4", "m4p", "mpg", "mp2", "mpeg", "mpe", "mpv",
	"m2v", "mxf", "nsv", "ogv", "rmvb", "roq", "svi", "vob", "webm", "wmv",
	"yuv", "rm")

var documentExts = extSet("doc", "docx", "html", "htm", "fb2", "odt", "sxw",
	"pdf", "ps", "rtf", "tex", "txt", "epub", "pub", "mobi", "azw", "azw3",
	"azw4", "kf8", "chm", "cbt", "cbr", "cbz", "cb7", "cba", "ibooks",
	"djvu", "md")

var compressedExts = extSet("a", "ar", "cpio", "shar", "lbr", "iso", "mar",
	"tar", "bz2", "f", "gz", "lz", "lzma", "lzo", "rz", "sfark", "sz", "xz",
	"z", "infl", "7z", "s7z", "ace", "afa", "alz", "apk", "arc", "arj", "b1",
	"ba", "bh", "cab", "cfs", "cpt", "dar", "dd", "dgc", "dmg", "ear", "gca",
	"ha", "hki", "ice", "jar", "kgb", "lzh", "lha", "lzx", "pac", "partimg",
	"paq6", "paq7", "paq8", "pea", "pim", "pit", "qda", "rar", "rk", "sda",
	"sea", "sen", "sfx", "sit", "sitx", "sqx", "tgz", "tbz2", "tlz", "uc",
	"uc0", "uc2", "ucn", "ur2", "ue2", "uca", "uha", "war", "wim", "xar",
	"xp3", "yz1", "zip", "zipx", "zoo", "zpaq", "zz", "ecc", "par", "par2")

func extSet(exts ...string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		set[e] = true
	}
	return set
}

// DownloadPathFor routes a file into a subfolder of the download
// directory by its extension kind. With subfolder routing off, the
// base path is returned unchanged.
func DownloadPathFor(fileName, basePath string, subfolder bool) string {
	if !subfolder {
		return basePath
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	// A query suffix means the name carried URL components.
	if i := strings.IndexByte(ext, '?'); i >= 0 {
		ext = ext[:i]
	}
	switch {
	case audioExts[ext]:
		return filepath.Join(basePath, "Audios")
	case videoExts[ext]:
		return filepath.Join(basePath, "Videos")
	case documentExts[ext]:
		return filepath.Join(basePath, "Documents")
	case compressedExts[ext]:
		return filepath.Join(basePath, "Compressed")
	default:
		return filepath.Join(basePath, "Other")
	}
}
