package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/edumarques81/heos-control/internal/infra/heos"
)

var generalQueries = []string{
	"system/heart_beat",
	"system/check_account",
	"browse/get_music_sources",
	"player/get_players",
	"group/get_groups",
}

var playerQueries = []string{
	"player/get_play_state",
	"player/get_player_info",
	"player/get_volume",
	"player/get_mute",
	"player/get_now_playing_media",
}

// Status is a snapshot of the system and of the main player.
type Status struct {
	General []*heos.Response `json:"general"`
	Player  []*heos.Response `json:"player"`
}

// Status queries the device for a fixed set of read-only commands. A device
// refusal is kept in the snapshot; a connection failure aborts it.
func (s *Session) Status(ctx context.Context) (*Status, error) {
	st := &Status{}

	for _, cmd := range generalQueries {
		resp, err := s.query(ctx, cmd)
		if err != nil {
			return nil, err
		}
		st.General = append(st.General, resp)
	}

	for _, cmd := range playerQueries {
		resp, err := s.query(ctx, fmt.Sprintf("%s?pid=%d", cmd, s.pid))
		if err != nil {
			return nil, err
		}
		st.Player = append(st.Player, resp)
	}

	return st, nil
}

func (s *Session) query(ctx context.Context, command string) (*heos.Response, error) {
	resp, err := s.conn.Request(ctx, command, true)
	if err != nil {
		var ce *heos.CommandError
		if errors.As(err, &ce) && ce.Response != nil {
			s.logger.Warn().Str("command", command).Err(err).Msg("Status query refused")
			return ce.Response, nil
		}
		return nil, fmt.Errorf("status %s: %w", command, err)
	}
	return resp, nil
}
