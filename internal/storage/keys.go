// Package storage provides object storage access for raw uploads, encoded
// HLS renditions, and thumbnails.
package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/vodarr/vodarr/internal/models"
)

// Object key layout inside the bucket:
//
//	raw/<videoID><ext>                         original upload
//	encoded/<videoID>/master.m3u8              master playlist
//	encoded/<videoID>/<quality>/playlist.m3u8  rendition playlist
//	encoded/<videoID>/<quality>/segment_*.ts   media segments
//	thumbnails/<videoID>.jpg                   poster frame
const (
	rawPrefix       = "raw/"
	encodedPrefix   = "encoded/"
	thumbnailPrefix = "thumbnails/"

	masterPlaylistName    = "master.m3u8"
	renditionPlaylistName = "playlist.m3u8"
)

// RawKey returns the object key a new upload is written to. The extension is
// taken from the original filename so ffprobe can sniff the container.
func RawKey(videoID models.ULID, originalFilename string) string {
	ext := strings.ToLower(path.Ext(originalFilename))
	return rawPrefix + videoID.String() + ext
}

// EncodedPrefix returns the key prefix holding every encoded artifact of a
// video. Removing this prefix removes all renditions and the master playlist.
func EncodedPrefix(videoID models.ULID) string {
	return encodedPrefix + videoID.String() + "/"
}

// QualityPrefix returns the key prefix of one rendition's playlist and
// segments.
func QualityPrefix(videoID models.ULID, quality models.QualityName) string {
	return EncodedPrefix(videoID) + string(quality) + "/"
}

// MasterPlaylistKey returns the key of the video's master playlist.
func MasterPlaylistKey(videoID models.ULID) string {
	return EncodedPrefix(videoID) + masterPlaylistName
}

// QualityPlaylistKey returns the key of one rendition's media playlist.
func QualityPlaylistKey(videoID models.ULID, quality models.QualityName) string {
	return QualityPrefix(videoID, quality) + renditionPlaylistName
}

// SegmentKey returns the key of one media segment.
func SegmentKey(videoID models.ULID, quality models.QualityName, index int) string {
	return fmt.Sprintf("%ssegment_%03d.ts", QualityPrefix(videoID, quality), index)
}

// ThumbnailKey returns the key of the video's poster frame.
func ThumbnailKey(videoID models.ULID) string {
	return thumbnailPrefix + videoID.String() + ".jpg"
}
