package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Client-originated User opcodes.
const (
	ClientUserSuccessResp           uint16 = 0x00
	ClientUserGetUsername           uint16 = 0x01
	ClientUserRetrieveProjects      uint16 = 0x10
	ClientUserRetrieveProjectsPaged uint16 = 0x11
	ClientUserRetrieveProjectsTotal uint16 = 0x12
	ClientUserRetrieveProjectImage  uint16 = 0x13
	ClientUserOpenProject           uint16 = 0x1f
)

// Server-originated User opcodes.
const (
	ServerUserSuccessResp         uint16 = 0x00
	ServerUserUsernameResp        uint16 = 0x01
	ServerUserProjectsListResp    uint16 = 0x10
	ServerUserProjectsTotalResp   uint16 = 0x11
	ServerUserProjectImageResp    uint16 = 0x12
	ServerUserErrNotAuthenticated uint16 = 0xffff
)

// RetrieveProjectsPaged requests one page of the user's project list.
type RetrieveProjectsPaged struct {
	Offset uint64
	Count  uint64
}

// RetrieveProjectImage requests the preview image with the given id.
type RetrieveProjectImage struct {
	ImageID uint64
}

// UsernameResp carries the username of the session's account.
type UsernameResp struct {
	Username string
}

// Project is one entry of a project listing.
type Project struct {
	ID       uint64
	Title    string
	LastEdit uint64
	Created  uint64
	ImageID  uint64
}

// ProjectsListResp carries a (possibly paged) project listing.
type ProjectsListResp struct {
	Projects []Project
}

// ProjectsTotalResp carries the total number of the user's projects.
type ProjectsTotalResp struct {
	Total uint64
}

// ProjectImageResp carries raw preview image bytes.
type ProjectImageResp struct {
	Data []byte
}

var clientUserSpecs = map[uint16]*opcodeSpec{
	ClientUserSuccessResp:      {},
	ClientUserGetUsername:      {},
	ClientUserRetrieveProjects: {},
	ClientUserRetrieveProjectsPaged: {
		schema: record(
			field{name: "offset", typ: typeUint64},
			field{name: "count", typ: typeUint64},
		),
		bind: func(v map[string]any) any {
			return RetrieveProjectsPaged{Offset: v["offset"].(uint64), Count: v["count"].(uint64)}
		},
	},
	ClientUserRetrieveProjectsTotal: {},
	ClientUserRetrieveProjectImage: {
		schema: record(
			field{name: "imgid", typ: typeUint64},
		),
		bind: func(v map[string]any) any {
			return RetrieveProjectImage{ImageID: v["imgid"].(uint64)}
		},
	},
	ClientUserOpenProject: {},
}

var serverUserSpecs = map[uint16]*opcodeSpec{
	ServerUserSuccessResp: {},
	ServerUserUsernameResp: {
		schema: record(
			field{name: "username", typ: typeString},
		),
		bind: func(v map[string]any) any {
			return UsernameResp{Username: v["username"].(string)}
		},
		extract: func(payload any) (map[string]any, error) {
			p, ok := payload.(UsernameResp)
			if !ok {
				return nil, fmt.Errorf("expected UsernameResp payload, got %T", payload)
			}
			return map[string]any{"username": p.Username}, nil
		},
	},
	ServerUserProjectsListResp: {
		schema: record(
			field{name: "projects", typ: typeProjectList},
		),
		bind: func(v map[string]any) any {
			return ProjectsListResp{Projects: v["projects"].([]Project)}
		},
		extract: func(payload any) (map[string]any, error) {
			p, ok := payload.(ProjectsListResp)
			if !ok {
				return nil, fmt.Errorf("expected ProjectsListResp payload, got %T", payload)
			}
			return map[string]any{"projects": p.Projects}, nil
		},
	},
	ServerUserProjectsTotalResp: {
		schema: record(
			field{name: "total", typ: typeUint64},
		),
		bind: func(v map[string]any) any {
			return ProjectsTotalResp{Total: v["total"].(uint64)}
		},
		extract: func(payload any) (map[string]any, error) {
			p, ok := payload.(ProjectsTotalResp)
			if !ok {
				return nil, fmt.Errorf("expected ProjectsTotalResp payload, got %T", payload)
			}
			return map[string]any{"total": p.Total}, nil
		},
	},
	ServerUserProjectImageResp: {
		schema: record(
			field{name: "data", typ: typeBinary},
		),
		bind: func(v map[string]any) any {
			return ProjectImageResp{Data: v["data"].([]byte)}
		},
		extract: func(payload any) (map[string]any, error) {
			p, ok := payload.(ProjectImageResp)
			if !ok {
				return nil, fmt.Errorf("expected ProjectImageResp payload, got %T", payload)
			}
			return map[string]any{"data": p.Data}, nil
		},
	},
	ServerUserErrNotAuthenticated: {},
}

// Project entries are field-keyed maps nested inside the projects array.
// They follow the same validation rules as top-level record payloads.
var projectSchema = record(
	field{name: "id", typ: typeUint64},
	field{name: "title", typ: typeString},
	field{name: "lastedit", typ: typeUint64},
	field{name: "created", typ: typeUint64},
	field{name: "imgid", typ: typeUint64},
)

func encodeProjectList(enc *msgpack.Encoder, projects []Project) error {
	if err := enc.EncodeArrayLen(len(projects)); err != nil {
		return err
	}
	for _, p := range projects {
		err := encodePayload(enc, projectSchema, map[string]any{
			"id":       p.ID,
			"title":    p.Title,
			"lastedit": p.LastEdit,
			"created":  p.Created,
			"imgid":    p.ImageID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func decodeProjectList(dec *msgpack.Decoder) ([]Project, error) {
	code, err := dec.PeekCode()
	if err != nil {
		return nil, fmt.Errorf("reading project list: %w", err)
	}
	if !msgpcode.IsFixedArray(code) && code != msgpcode.Array16 && code != msgpcode.Array32 {
		return nil, errPayload
	}

	n, err := dec.DecodeArrayLen()
	if err != nil || n < 0 {
		return nil, errPayload
	}

	projects := make([]Project, 0, n)
	for i := 0; i < n; i++ {
		values, err := decodeRecordPayload(dec, projectSchema)
		if err != nil {
			return nil, err
		}
		projects = append(projects, Project{
			ID:       values["id"].(uint64),
			Title:    values["title"].(string),
			LastEdit: values["lastedit"].(uint64),
			Created:  values["created"].(uint64),
			ImageID:  values["imgid"].(uint64),
		})
	}
	return projects, nil
}
