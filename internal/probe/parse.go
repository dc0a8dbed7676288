// Package probe implements the ProbeExecutor: it invokes the external
// media inspector subprocess, parses its diagnostic text into StreamStats,
// and scores the result. The subprocess itself is an external collaborator
// (spec §1); this package owns everything on our side of that boundary.
package probe

import (
	"regexp"
	"strconv"
	"strings"
)

// resolutionRe matches a WxH token such as "1920x1080".
var resolutionRe = regexp.MustCompile(`(\d{2,5})x(\d{2,5})`)

// fpsRe matches an fps token such as "29.97 fps" or "25 fps".
var fpsRe = regexp.MustCompile(`([\d.]+)\s*fps`)

// statisticsBytesRe matches "Statistics: 15000000 bytes read".
var statisticsBytesRe = regexp.MustCompile(`Statistics:\s*(\d+)\s*bytes read`)

// bitrateProgressRe matches a trailing "bitrate=4000.0kbits/s" progress line.
var bitrateProgressRe = regexp.MustCompile(`bitrate\s*=\s*([\d.]+)\s*kbits/s`)

// trailingBytesReadRe matches a bare "N bytes read" without the
// "Statistics:" prefix (Method 3).
var trailingBytesReadRe = regexp.MustCompile(`(\d+)\s*bytes read`)

// codecBlocklist holds tokens that are not real codec names.
var codecBlocklist = map[string]bool{
	"wrapped_avframe": true,
	"none":            true,
	"unknown":         true,
	"null":            true,
	"":                true,
}

// codecAliases normalizes informal codec spellings to their canonical name.
var codecAliases = map[string]string{
	"avc1": "h264",
	"hevc": "h265",
}

// parenthetical extracts a codec name appearing in parentheses right after
// a blocklisted token, e.g. "wrapped_avframe (avc1 / 0x31637661, yuv420p)".
var parenthetical = regexp.MustCompile(`\(([a-zA-Z0-9_]+)`)

// ParsedDiagnostics holds every field extracted from one inspector run.
type ParsedDiagnostics struct {
	Width, Height        int
	FPS                  float64
	VideoCodec, AudioCodec string
	BitrateKbps          *int
}

// ParseDiagnostics extracts resolution, fps, codecs, and bitrate from the
// inspector's raw diagnostic text, per spec §4.A.2-4.
func ParseDiagnostics(text string, durationSeconds float64) ParsedDiagnostics {
	var d ParsedDiagnostics

	if m := resolutionRe.FindStringSubmatch(text); m != nil {
		d.Width, _ = strconv.Atoi(m[1])
		d.Height, _ = strconv.Atoi(m[2])
	}

	if m := lastMatch(fpsRe, text); m != nil {
		d.FPS, _ = strconv.ParseFloat(m[1], 64)
	}

	d.BitrateKbps = extractBitrate(text, durationSeconds)

	d.VideoCodec = sanitizeCodec(findCodecToken(text, "Video:"))
	d.AudioCodec = sanitizeCodec(findCodecToken(text, "Audio:"))

	return d
}

// extractBitrate applies the three-method priority order from spec §4.A.3.
func extractBitrate(text string, durationSeconds float64) *int {
	if m := statisticsBytesRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.ParseFloat(m[1], 64); err == nil && durationSeconds > 0 {
			kbps := int(n * 8 / 1000 / durationSeconds)
			return &kbps
		}
	}
	if m := lastMatch(bitrateProgressRe, text); m != nil {
		if x, err := strconv.ParseFloat(m[1], 64); err == nil {
			kbps := int(x)
			return &kbps
		}
	}
	if m := trailingBytesReadRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.ParseFloat(m[1], 64); err == nil && durationSeconds > 0 {
			kbps := int(n * 8 / 1000 / durationSeconds)
			return &kbps
		}
	}
	return nil
}

// lastMatch returns the submatches of the last (rightmost) match of re in
// text, used for progress-style lines where later entries supersede
// earlier ones.
func lastMatch(re *regexp.Regexp, text string) []string {
	all := re.FindAllStringSubmatch(text, -1)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// findCodecToken looks for "<label> <token>" (e.g. "Video: h264") on the
// first line containing label, returning the raw token text including any
// trailing parenthetical for sanitizeCodec to interpret.
func findCodecToken(text, label string) string {
	idx := strings.Index(text, label)
	if idx < 0 {
		return ""
	}
	rest := text[idx+len(label):]
	if nl := strings.IndexAny(rest, "\r\n"); nl >= 0 {
		rest = rest[:nl]
	}
	return strings.TrimSpace(rest)
}

// sanitizeCodec implements spec §4.A.4: blocklisted tokens become "N/A"
// unless a real codec name is present in parentheses immediately after,
// in which case that parenthetical token is extracted and normalized.
func sanitizeCodec(raw string) string {
	raw = strings.TrimSpace(raw)
	fields := strings.Fields(raw)
	token := raw
	if len(fields) > 0 {
		token = fields[0]
	}
	token = strings.TrimSuffix(token, ",")

	if codecBlocklist[strings.ToLower(token)] {
		if m := parenthetical.FindStringSubmatch(raw); m != nil {
			return normalizeCodec(m[1])
		}
		return "N/A"
	}
	return normalizeCodec(token)
}

func normalizeCodec(codec string) string {
	lower := strings.ToLower(codec)
	if alias, ok := codecAliases[lower]; ok {
		return alias
	}
	return lower
}
