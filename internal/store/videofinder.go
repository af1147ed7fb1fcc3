package store

import (
	"database/sql"
	"fmt"
)

// InsertVideoAudioPairs stores stream pairs in chunked transactions.
func (s *Store) InsertVideoAudioPairs(pairs []VideoAudioPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.chunked(len(pairs), func(tx *sql.Tx, i int) error {
		p := pairs[i]
		_, err := tx.Exec(`
			INSERT INTO video_finder_db_table VALUES (NULL, ?, ?, ?, ?, ?, ?, ?)`,
			p.VideoGID, p.AudioGID,
			boolToYesNo(p.VideoCompleted), boolToYesNo(p.AudioCompleted),
			p.MuxingStatus, boolToYesNo(p.Checking), p.DownloadPath,
		)
		if err != nil {
			return fmt.Errorf("insert pair %s/%s: %w", p.VideoGID, p.AudioGID, err)
		}
		return nil
	})
}

// PairByGID finds the pair containing the given GID on either side.
func (s *Store) PairByGID(gid string) (VideoAudioPair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p VideoAudioPair
	var id int64
	var videoDone, audioDone, checking string
	err := s.db.QueryRow(`
		SELECT * FROM video_finder_db_table WHERE audio_gid = ? OR video_gid = ?`,
		gid, gid).Scan(
		&id, &p.VideoGID, &p.AudioGID, &videoDone, &audioDone,
		&p.MuxingStatus, &checking, &p.DownloadPath,
	)
	if err == sql.ErrNoRows {
		return VideoAudioPair{}, false, nil
	}
	if err != nil {
		return VideoAudioPair{}, false, fmt.Errorf("search pair %s: %w", gid, err)
	}
	p.VideoCompleted = yesNoToBool(videoDone)
	p.AudioCompleted = yesNoToBool(audioDone)
	p.Checking = yesNoToBool(checking)
	return p, true, nil
}

// UpdateVideoAudioPairs applies partial updates keyed by video GID.
func (s *Store) UpdateVideoAudioPairs(patches []VideoAudioPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.chunked(len(patches), func(tx *sql.Tx, i int) error {
		p := patches[i]
		_, err := tx.Exec(`
			UPDATE video_finder_db_table SET
				video_completed = coalesce(?, video_completed),
				audio_completed = coalesce(?, audio_completed),
				muxing_status = coalesce(?, muxing_status),
				checking = coalesce(?, checking),
				download_path = coalesce(?, download_path)
			WHERE video_gid = ?`,
			boolPtrToText(p.VideoCompleted),
			boolPtrToText(p.AudioCompleted),
			p.MuxingStatus,
			boolPtrToText(p.Checking),
			p.DownloadPath,
			p.VideoGID,
		)
		if err != nil {
			return fmt.Errorf("update pair %s: %w", p.VideoGID, err)
		}
		return nil
	})
}

// PairGIDs returns all pair members: the combined list plus the video
// and audio sides separately, in row order.
func (s *Store) PairGIDs() (all, video, audio []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT video_gid, audio_gid FROM video_finder_db_table`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list pair gids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v, a string
		if err := rows.Scan(&v, &a); err != nil {
			return nil, nil, nil, fmt.Errorf("scan pair gids: %w", err)
		}
		all = append(all, v, a)
		video = append(video, v)
		audio = append(audio, a)
	}
	return all, video, audio, rows.Err()
}
