package trd

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// User-facing texts.
const (
	MsgHello                = "Hi! I'll help you download torrents. Press Start to begin."
	MsgInvitation           = "Paste a magnet link or attach a torrent file and send it in a reply."
	MsgSelectFiles          = "Select the files you want to download:"
	MsgFilesSelected        = "files selected. I've sent them for download."
	MsgNoFileSelected       = "Nothing selected. Well, let's postpone the download for now."
	MsgNoActiveTorrents     = "No active torrents. To start downloading, send a magnet link or a torrent file."
	MsgYourActiveTorrents   = "Your torrents in progress:"
	MsgTorrentDeleted       = "Torrent deleted."
	MsgConsentAcknowledged  = "Confirmed: I've sent the message."
	MsgConsentRequired      = "The bot has restrictions on sending files. To receive files you must grant permission once. Send the helper any message, then confirm here."
	MsgInvalidLink          = "Please send a magnet link or attach a torrent file."
	MsgMetadataUnavailable  = "I couldn't fetch the torrent's file list. Please try again later."
	MsgUnknownError         = "Oops! An unknown error occurred..."
	MsgDelivered            = "Your files are ready:"
	msgSelectionTooLargeFmt = "The total size of selected files must not exceed %s. Remove some files to reduce the total size."
	msgTorrentTooLargeFmt   = "This torrent doesn't contain any files smaller than the %s limit. Please choose a different torrent to download."
	msgOverLimitFmt         = "You can have no more than %d active torrents. To add a new one, wait until one of your torrents finishes downloading or remove one."
)

// UserMessage maps an error returned by Service to text safe to show the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if pe, ok := AsPolicyError(err); ok {
		switch pe.Kind {
		case OverLimit:
			return fmt.Sprintf(msgOverLimitFmt, pe.Limit)
		case TooLarge:
			return fmt.Sprintf(msgTorrentTooLargeFmt, humanize.IBytes(uint64(pe.Limit)))
		case NothingSelected:
			return MsgNoFileSelected
		case SelectionTooLarge:
			return fmt.Sprintf(msgSelectionTooLargeFmt, humanize.IBytes(uint64(pe.Limit)))
		}
	}
	var he *HashExtractionError
	switch {
	case errors.As(err, &he):
		return MsgInvalidLink
	case errors.Is(err, ErrMetadataUnavailable):
		return MsgMetadataUnavailable
	case errors.Is(err, ErrSelectionNotOpen), errors.Is(err, ErrTorrentNotFound):
		return MsgInvitation
	default:
		return MsgUnknownError
	}
}
