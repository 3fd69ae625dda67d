package connect

import (
	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	"google.golang.org/protobuf/types/known/structpb"
)

// AdminServiceName is the fully-qualified name of the admin service.
const AdminServiceName = "guildtune.admin.v1.AdminService"

// Admin service procedures.
const (
	ListServersProcedure = "/" + AdminServiceName + "/ListServers"
	UsageProcedure       = "/" + AdminServiceName + "/Usage"
	SkipProcedure        = "/" + AdminServiceName + "/Skip"
	PauseProcedure       = "/" + AdminServiceName + "/Pause"
	ResumeProcedure      = "/" + AdminServiceName + "/Resume"
	LeaveProcedure       = "/" + AdminServiceName + "/Leave"
	WatchEventsProcedure = "/" + AdminServiceName + "/WatchEvents"
)

// ServerInfo describes a guild the bot is a member of.
type ServerInfo struct {
	ID      string `mapstructure:"id"`
	Name    string `mapstructure:"name"`
	Members int    `mapstructure:"members"`
}

// SessionInfo describes the playback session of a guild.
type SessionInfo struct {
	GuildID   string `mapstructure:"guild_id"`
	GuildName string `mapstructure:"guild_name"`
	State     string `mapstructure:"state"`
	Track     string `mapstructure:"track"`
	QueueSize int    `mapstructure:"queue_size"`
	Volume    int    `mapstructure:"volume"`
}

// GuildRequest addresses one guild's session.
type GuildRequest struct {
	GuildID string `mapstructure:"guild_id"`
}

// ActionResult is the outcome of a session action.
type ActionResult struct {
	Success bool   `mapstructure:"success"`
	Message string `mapstructure:"message"`
}

// Event is one playback notification.
type Event struct {
	SequenceNo uint64 `mapstructure:"sequence_no"`
	Timestamp  string `mapstructure:"timestamp"`
	GuildID    string `mapstructure:"guild_id"`
	Type       string `mapstructure:"type"`
	State      string `mapstructure:"state"`
	TrackID    string `mapstructure:"track_id"`
	TrackTitle string `mapstructure:"track_title"`
	Requester  string `mapstructure:"requester"`
	QueueSize  int    `mapstructure:"queue_size"`
	Volume     int    `mapstructure:"volume"`
}

// toMap flattens a message type into a structpb-compatible map.
func toMap(v any) (map[string]any, error) {
	var m map[string]any
	if err := mapstructure.Decode(v, &m); err != nil {
		return nil, errors.Wrap(err, "failed to encode message")
	}
	return m, nil
}

// toStruct encodes a message type as a struct message.
func toStruct(v any) (*structpb.Struct, error) {
	m, err := toMap(v)
	if err != nil {
		return nil, err
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode message")
	}
	return s, nil
}

// listStruct encodes items as a struct message with a single list field.
func listStruct[T any](field string, items []T) (*structpb.Struct, error) {
	list := make([]any, 0, len(items))
	for _, item := range items {
		m, err := toMap(item)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	s, err := structpb.NewStruct(map[string]any{field: list})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode message")
	}
	return s, nil
}

// fromStruct decodes a struct message into out.
// Numbers arrive as float64 and are converted to the target field type.
func fromStruct(s *structpb.Struct, out any) error {
	if s == nil {
		return nil
	}
	if err := mapstructure.Decode(s.AsMap(), out); err != nil {
		return errors.Wrap(err, "failed to decode message")
	}
	return nil
}

// fromListStruct decodes the list field of a struct message into out.
func fromListStruct(s *structpb.Struct, field string, out any) error {
	if s == nil {
		return nil
	}
	if err := mapstructure.Decode(s.AsMap()[field], out); err != nil {
		return errors.Wrap(err, "failed to decode message")
	}
	return nil
}
