package server

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/jobs"
)

// Client calls subsidy.v1.Jobs on an existing connection.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) Enqueue(ctx context.Context, req jobs.EnqueueRequest) (uuid.UUID, error) {
	in, err := structpb.NewStruct(map[string]any{
		"document_ref": req.DocumentRef,
		"kind":         string(req.Kind),
		"size_bytes":   float64(req.SizeBytes),
		"priority":     string(req.Priority),
		"max_attempts": float64(req.MaxAttempts),
	})
	if err != nil {
		return uuid.Nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Enqueue", in, out); err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(out.GetFields()["id"].GetStringValue())
}

func (c *Client) Get(ctx context.Context, id uuid.UUID) (*entity.ProcessingJob, error) {
	return c.call(ctx, "Get", id)
}

func (c *Client) Cancel(ctx context.Context, id uuid.UUID) (*entity.ProcessingJob, error) {
	return c.call(ctx, "Cancel", id)
}

func (c *Client) call(ctx context.Context, method string, id uuid.UUID) (*entity.ProcessingJob, error) {
	in, err := idRequest(id)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	var j entity.ProcessingJob
	if err := fromStruct(out, &j); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	return &j, nil
}

// Watch calls fn with every job snapshot the server streams. It returns nil
// once the job reaches a terminal status.
func (c *Client) Watch(ctx context.Context, id uuid.UUID, fn func(*entity.ProcessingJob)) error {
	in, err := idRequest(id)
	if err != nil {
		return err
	}
	desc := &grpc.StreamDesc{StreamName: "Watch", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, "/"+ServiceName+"/Watch")
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var j entity.ProcessingJob
		if err := fromStruct(out, &j); err != nil {
			return fmt.Errorf("decode watch event: %w", err)
		}
		fn(&j)
	}
}

func idRequest(id uuid.UUID) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"id": id.String()})
}
