package trd

import (
	"bytes"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
)

var magnetHashPattern = regexp.MustCompile(`magnet:\?xt=urn:btih:([a-fA-F0-9]{40}|[a-zA-Z0-9]{32})(?:&|$)`)

// Payload is what a user submits: a magnet link or the bytes of a .torrent file.
type Payload struct {
	Magnet      string
	TorrentFile []byte
}

// Resolve derives the info-hash and a magnet link for the payload.
func (p Payload) Resolve() (hash, magnet string, err error) {
	if len(p.TorrentFile) > 0 {
		return MagnetFromTorrentFile(p.TorrentFile)
	}
	hash, err = HashFromMagnet(p.Magnet)
	if err != nil {
		return "", "", err
	}
	return hash, strings.TrimSpace(p.Magnet), nil
}

// HashFromMagnet extracts the BTIH token of a magnet URI as lower-case hex.
// A 32-character base32 token is converted to its hex form so both spellings
// of one torrent share a key.
func HashFromMagnet(link string) (string, error) {
	m := magnetHashPattern.FindStringSubmatch(strings.TrimSpace(link))
	if m == nil {
		return "", &HashExtractionError{Source: "magnet"}
	}
	token := m[1]
	if len(token) == 40 {
		return strings.ToLower(token), nil
	}

	raw, err := base32.StdEncoding.DecodeString(strings.ToUpper(token))
	if err != nil {
		return "", &HashExtractionError{Source: "magnet", Err: err}
	}
	return hex.EncodeToString(raw), nil
}

// MagnetFromTorrentFile decodes a .torrent file, hashes its info dictionary
// and builds a magnet link carrying its trackers.
func MagnetFromTorrentFile(data []byte) (hash, magnet string, err error) {
	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return "", "", &HashExtractionError{Source: "file", Err: err}
	}
	if len(mi.InfoBytes) == 0 {
		return "", "", &HashExtractionError{Source: "file", Err: errors.New("missing info dictionary")}
	}

	hash = mi.HashInfoBytes().HexString()

	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(hash)
	if len(mi.AnnounceList) > 0 {
		for _, tier := range mi.AnnounceList {
			for _, tr := range tier {
				b.WriteString("&tr=")
				b.WriteString(url.QueryEscape(tr))
			}
		}
	} else if mi.Announce != "" {
		b.WriteString("&tr=")
		b.WriteString(url.QueryEscape(mi.Announce))
	}
	return hash, b.String(), nil
}
