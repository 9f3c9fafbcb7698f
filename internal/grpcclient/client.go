// Package grpcclient reaches a face-verification model over gRPC.
//
// The remote service is expected to expose
//
//	service FaceVerifier {
//	  rpc Verify(google.protobuf.Struct) returns (google.protobuf.Struct);
//	}
//
// under the package faceverify.v1, so no generated stubs are required.
package grpcclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/face-match/internal/faceverify"
	"github.com/example/face-match/internal/logging"
)

// VerifyMethod is the full gRPC method name invoked by the client.
const VerifyMethod = "/faceverify.v1.FaceVerifier/Verify"

// Options tune the gRPC verifier.
type Options struct {
	DetectorBackend string
	SendPaths       bool
	DialTimeout     time.Duration
}

// DialFaceVerifier returns a ready-to-use verifier backed by a gRPC connection.
func DialFaceVerifier(ctx context.Context, addr string, opts Options, logger *zap.Logger, dialOpts ...grpc.DialOption) (faceverify.Verifier, *grpc.ClientConn, error) {
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialOpts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, dialOpts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_face_verifier", "", err)
		logger.Error("failed to dial face verifier", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}

	detector := opts.DetectorBackend
	if detector == "" {
		detector = "opencv"
	}
	return &grpcFaceVerifier{
		conn:      conn,
		detector:  detector,
		sendPaths: opts.SendPaths,
		logger:    logger.Named("grpc_verifier"),
	}, conn, nil
}

type grpcFaceVerifier struct {
	conn      grpc.ClientConnInterface
	detector  string
	sendPaths bool
	logger    *zap.Logger
}

func (g *grpcFaceVerifier) Verify(ctx context.Context, img1Path, img2Path, model string) (*faceverify.Result, error) {
	if model == "" {
		model = faceverify.DefaultModel
	}
	req, err := g.buildRequest(img1Path, img2Path, model)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.build_request", "", err)
	}

	resp := new(structpb.Struct)
	if err := g.conn.Invoke(ctx, VerifyMethod, req, resp); err != nil {
		if st, ok := status.FromError(err); ok {
			switch st.Code() {
			case codes.InvalidArgument, codes.FailedPrecondition, codes.NotFound:
				return nil, faceverify.ClassifyModelError(st.Message())
			default:
				// Servers that surface detection failures as UNKNOWN or INTERNAL.
				if faceverify.IsNoFaceMessage(st.Message()) {
					return nil, faceverify.ClassifyModelError(st.Message())
				}
			}
		}
		wrapped := logging.NewOperationError("grpcclient.verify", "", err)
		g.logger.Error("face verifier call failed", zap.Error(wrapped), zap.String("model", model))
		return nil, wrapped
	}

	return decodeResult(resp)
}

func (g *grpcFaceVerifier) buildRequest(img1Path, img2Path, model string) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"img1_path":         img1Path,
		"img2_path":         img2Path,
		"model_name":        model,
		"detector_backend":  g.detector,
		"enforce_detection": true,
	}
	if !g.sendPaths {
		img1, err := faceverify.EncodeImageFile(img1Path)
		if err != nil {
			return nil, err
		}
		img2, err := faceverify.EncodeImageFile(img2Path)
		if err != nil {
			return nil, err
		}
		fields["img1"] = img1
		fields["img2"] = img2
	}
	return structpb.NewStruct(fields)
}

func decodeResult(resp *structpb.Struct) (*faceverify.Result, error) {
	fields := resp.GetFields()
	if msg := fields["error"].GetStringValue(); msg != "" {
		return nil, faceverify.ClassifyModelError(msg)
	}

	distance, ok := fields["distance"].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return nil, fmt.Errorf("face verifier response missing distance")
	}
	threshold, ok := fields["threshold"].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return nil, fmt.Errorf("face verifier response missing threshold")
	}
	verified, ok := fields["verified"].GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return nil, fmt.Errorf("face verifier response missing verified")
	}

	return &faceverify.Result{
		Distance:  distance.NumberValue,
		Verified:  verified.BoolValue,
		Threshold: threshold.NumberValue,
	}, nil
}
