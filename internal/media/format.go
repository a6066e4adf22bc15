package media

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// Format is a concrete file format.
type Format string

const (
	FormatMP4  Format = "mp4"
	FormatWebM Format = "webm"
	FormatGIF  Format = "gif"
	FormatAVI  Format = "avi"
	FormatMKV  Format = "mkv"
	FormatWMV  Format = "wmv"
	FormatMOV  Format = "mov"
	FormatMTS  Format = "mts"
	FormatFLV  Format = "flv"
	FormatOGV  Format = "ogv"

	FormatMP3  Format = "mp3"
	FormatWAV  Format = "wav"
	FormatFLAC Format = "flac"
	FormatOGG  Format = "ogg"
	FormatAAC  Format = "aac"
	FormatM4A  Format = "m4a"
	FormatOpus Format = "opus"

	FormatJPG  Format = "jpg"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
	FormatBMP  Format = "bmp"
	FormatTIFF Format = "tiff"
	FormatAVIF Format = "avif"
	FormatICO  Format = "ico"

	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
	FormatODT      Format = "odt"
	FormatTXT      Format = "txt"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "md"
	FormatEPUB     Format = "epub"
)

type formatInfo struct {
	kind      Kind
	extension string
}

// catalog maps every declared format to its kind and extension. GIF belongs
// to video.
var catalog = map[Format]formatInfo{
	FormatMP4:  {KindVideo, "mp4"},
	FormatWebM: {KindVideo, "webm"},
	FormatGIF:  {KindVideo, "gif"},
	FormatAVI:  {KindVideo, "avi"},
	FormatMKV:  {KindVideo, "mkv"},
	FormatWMV:  {KindVideo, "wmv"},
	FormatMOV:  {KindVideo, "mov"},
	FormatMTS:  {KindVideo, "mts"},
	FormatFLV:  {KindVideo, "flv"},
	FormatOGV:  {KindVideo, "ogv"},

	FormatMP3:  {KindAudio, "mp3"},
	FormatWAV:  {KindAudio, "wav"},
	FormatFLAC: {KindAudio, "flac"},
	FormatOGG:  {KindAudio, "ogg"},
	FormatAAC:  {KindAudio, "aac"},
	FormatM4A:  {KindAudio, "m4a"},
	FormatOpus: {KindAudio, "opus"},

	FormatJPG:  {KindImage, "jpg"},
	FormatJPEG: {KindImage, "jpg"},
	FormatPNG:  {KindImage, "png"},
	FormatWebP: {KindImage, "webp"},
	FormatBMP:  {KindImage, "bmp"},
	FormatTIFF: {KindImage, "tiff"},
	FormatAVIF: {KindImage, "avif"},
	FormatICO:  {KindImage, "ico"},

	FormatPDF:      {KindDocument, "pdf"},
	FormatDOCX:     {KindDocument, "docx"},
	FormatODT:      {KindDocument, "odt"},
	FormatTXT:      {KindDocument, "txt"},
	FormatHTML:     {KindDocument, "html"},
	FormatMarkdown: {KindDocument, "md"},
	FormatEPUB:     {KindDocument, "epub"},
}

// Kind returns the media kind the format belongs to, or "" for an
// undeclared format.
func (f Format) Kind() Kind {
	return catalog[f].kind
}

// Extension returns the canonical lowercase extension without a dot.
func (f Format) Extension() string {
	return catalog[f].extension
}

// Valid reports whether f is a declared format.
func (f Format) Valid() bool {
	_, ok := catalog[f]
	return ok
}

func (f Format) String() string { return string(f) }

// Formats returns every declared format sorted by name.
func Formats() []Format {
	out := make([]Format, 0, len(catalog))
	for f := range catalog {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// FormatsOf returns the declared formats of one kind sorted by name.
func FormatsOf(kind Kind) []Format {
	var out []Format
	for f, info := range catalog {
		if info.kind == kind {
			out = append(out, f)
		}
	}
	slices.Sort(out)
	return out
}

// ParseFormat resolves a format name or extension, ignoring case and a
// leading dot.
func ParseFormat(value string) (Format, error) {
	name := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(value)), ".")
	if name == "" {
		return "", fmt.Errorf("empty format")
	}
	if f := Format(name); f.Valid() {
		return f, nil
	}
	switch name {
	case "tif":
		return FormatTIFF, nil
	case "htm":
		return FormatHTML, nil
	case "markdown":
		return FormatMarkdown, nil
	case "m2ts":
		return FormatMTS, nil
	}
	return "", fmt.Errorf("unknown format %q", value)
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return "", fmt.Errorf("%s: no file extension", filepath.Base(path))
	}
	return ParseFormat(ext)
}
