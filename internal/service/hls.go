package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/storage"
)

// buildMasterPlaylist renders the HLS master playlist referencing every ready
// rendition, lowest tier first. Variant URIs are relative to the master
// playlist's own key so the encoded/<id>/ prefix stays relocatable.
func buildMasterPlaylist(qualities []models.VideoQuality) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	for _, tier := range models.AllQualities {
		for i := range qualities {
			q := &qualities[i]
			if q.QualityName != tier || q.Status != models.QualityStatusReady {
				continue
			}
			spec, ok := tier.Spec()
			if !ok {
				continue
			}
			// BANDWIDTH is the peak rate: video plus audio.
			bandwidth := (spec.VideoBitrateKbps + spec.AudioBitrateKbps) * 1000
			fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,NAME=\"%s\"\n",
				bandwidth, spec.Width, spec.Height, tier)
			fmt.Fprintf(&b, "%s/playlist.m3u8\n", tier)
		}
	}

	return b.String()
}

// writeMasterPlaylist builds and uploads the master playlist, returning its
// object key.
func (s *EncodeService) writeMasterPlaylist(ctx context.Context, videoID models.ULID, qualities []models.VideoQuality) (string, error) {
	content := buildMasterPlaylist(qualities)
	key := storage.MasterPlaylistKey(videoID)

	r := strings.NewReader(content)
	if err := s.store.Put(ctx, key, r, int64(len(content)), "application/vnd.apple.mpegurl"); err != nil {
		return "", fmt.Errorf("uploading master playlist: %w", err)
	}
	return key, nil
}
