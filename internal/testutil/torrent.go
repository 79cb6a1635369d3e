package testutil

import (
	"bytes"
	"testing"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
)

// TorrentFile returns the bytes of a minimal single-file .torrent named
// name, and its info-hash.
func TorrentFile(t *testing.T, name string) ([]byte, string) {
	t.Helper()
	info := metainfo.Info{
		Name:        name,
		PieceLength: 16384,
		Length:      3,
		Pieces:      make([]byte, 20),
	}
	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		t.Fatalf("bencode.Marshal() error = %v", err)
	}
	mi := metainfo.MetaInfo{InfoBytes: infoBytes, Announce: "udp://tracker.example:1337"}
	var buf bytes.Buffer
	if err := mi.Write(&buf); err != nil {
		t.Fatalf("MetaInfo.Write() error = %v", err)
	}
	return buf.Bytes(), mi.HashInfoBytes().HexString()
}
