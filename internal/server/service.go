// Package server exposes the job manager over gRPC. Messages are
// google.protobuf.Struct values so the service needs no generated stubs;
// field names match the JSON forms of the entity types.
package server

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/jobs"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/notify"
)

const ServiceName = "subsidy.v1.Jobs"

// JobManager is the job surface served over gRPC.
type JobManager interface {
	Enqueue(ctx context.Context, req jobs.EnqueueRequest) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.ProcessingJob, error)
	Cancel(ctx context.Context, id uuid.UUID) (*entity.ProcessingJob, error)
	Subscribe(id uuid.UUID) (<-chan notify.Event, func())
}

// JobsService implements subsidy.v1.Jobs.
type JobsService struct {
	mgr    JobManager
	logger *slog.Logger
}

func NewJobsService(mgr JobManager, logger *slog.Logger) *JobsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobsService{mgr: mgr, logger: logger}
}

// Register adds the service to s.
func (s *JobsService) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&jobsServiceDesc, s)
}

// Enqueue takes {document_ref, kind, size_bytes, priority, max_attempts}
// and returns {id}.
func (s *JobsService) Enqueue(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := req.GetFields()
	ref := strings.TrimSpace(f["document_ref"].GetStringValue())
	if ref == "" {
		s.logger.Error("grpc.enqueue missing document_ref")
		return nil, common.InvalidArgumentError("document_ref is required")
	}
	id, err := s.mgr.Enqueue(ctx, jobs.EnqueueRequest{
		DocumentRef: ref,
		Kind:        constants.DocumentKind(f["kind"].GetStringValue()),
		SizeBytes:   int64(f["size_bytes"].GetNumberValue()),
		Priority:    constants.Priority(f["priority"].GetStringValue()),
		MaxAttempts: int(f["max_attempts"].GetNumberValue()),
	})
	if err != nil {
		s.logger.Warn("grpc.enqueue failed", "ref", ref, "err", err)
		return nil, common.ToStatus(err)
	}
	s.logger.Info("grpc.enqueue ok", "job_id", id, "ref", ref)
	return structpb.NewStruct(map[string]any{"id": id.String()})
}

// Get takes {id} and returns the job.
func (s *JobsService) Get(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requestID(req)
	if err != nil {
		return nil, err
	}
	j, err := s.mgr.Get(ctx, id)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return toStruct(j)
}

// Cancel takes {id} and returns the job after the cancel request.
func (s *JobsService) Cancel(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requestID(req)
	if err != nil {
		return nil, err
	}
	j, err := s.mgr.Cancel(ctx, id)
	if err != nil {
		s.logger.Warn("grpc.cancel failed", "job_id", id, "err", err)
		return nil, common.ToStatus(err)
	}
	return toStruct(j)
}

// Watch takes {id} and streams the job on every status change until it is
// terminal.
func (s *JobsService) Watch(req *structpb.Struct, stream grpc.ServerStream) error {
	id, err := requestID(req)
	if err != nil {
		return err
	}
	ctx := stream.Context()
	events, stop := s.mgr.Subscribe(id)
	defer stop()

	send := func() (bool, error) {
		j, err := s.mgr.Get(ctx, id)
		if err != nil {
			return false, common.ToStatus(err)
		}
		msg, err := toStruct(j)
		if err != nil {
			return false, err
		}
		if err := stream.SendMsg(msg); err != nil {
			return false, err
		}
		return !j.Status.Terminal(), nil
	}

	more, err := send()
	for more && err == nil {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-events:
			if !ok {
				return nil
			}
			more, err = send()
		}
	}
	return err
}

func requestID(req *structpb.Struct) (uuid.UUID, error) {
	raw := strings.TrimSpace(req.GetFields()["id"].GetStringValue())
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, common.InvalidArgumentErrorf("id must be a UUID, got %q", raw)
	}
	return id, nil
}

var jobsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Enqueue", Handler: unary("Enqueue", (*JobsService).Enqueue)},
		{MethodName: "Get", Handler: unary("Get", (*JobsService).Get)},
		{MethodName: "Cancel", Handler: unary("Cancel", (*JobsService).Cancel)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				req := new(structpb.Struct)
				if err := stream.RecvMsg(req); err != nil {
					return err
				}
				return srv.(*JobsService).Watch(req, stream)
			},
		},
	},
	Metadata: "subsidy/v1/jobs.proto",
}

type unaryMethod func(*JobsService, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(*JobsService)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(*structpb.Struct))
		})
	}
}
