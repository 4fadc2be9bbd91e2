package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/imagestore"
	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/intcode/loader"
	"github.com/fortiblox/intcode/pkg/runner"
	"github.com/fortiblox/intcode/pkg/search"
)

// Version information.
const (
	CoreVersion = "intcode-1.0.0"
)

var supportedOpcodes = []intcode.Opcode{
	intcode.OpAdd,
	intcode.OpMultiply,
	intcode.OpInput,
	intcode.OpOutput,
	intcode.OpJumpIfTrue,
	intcode.OpJumpIfFalse,
	intcode.OpLessThan,
	intcode.OpEquals,
	intcode.OpHalt,
}

// parseArgs unmarshals positional params. Missing params are allowed.
func parseArgs(params json.RawMessage) ([]json.RawMessage, *RPCError) {
	var args []json.RawMessage
	if len(params) == 0 || string(params) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, InvalidParamsError("invalid params")
	}
	return args, nil
}

// runError maps runner and store errors to RPC errors.
func runError(ref string, err error) *RPCError {
	switch {
	case errors.Is(err, imagestore.ErrImageNotFound):
		return ImageNotFoundError(ref)
	case errors.Is(err, runner.ErrNoImageStore):
		return ErrStoreUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrRequestTimeout
	case errors.Is(err, loader.ErrMalformedProgram),
		errors.Is(err, intcode.ErrOutOfBounds),
		errors.Is(err, runner.ErrNoProgram),
		errors.Is(err, runner.ErrAmbiguousProgram),
		errors.Is(err, runner.ErrTooManyInputs),
		errors.Is(err, search.ErrInvalidRange),
		errors.Is(err, imagestore.ErrEmptyProgram):
		return InvalidParamsError(err.Error())
	default:
		return InternalServerErrorf("%v", err)
	}
}

func (s *Server) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.RunTimeout > 0 {
		return context.WithTimeout(ctx, s.config.RunTimeout)
	}
	return context.WithCancel(ctx)
}

// Execution Methods

// runProgram runs a program. Params: [request].
func (s *Server) runProgram(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing request parameter")
	}

	var req runner.Request
	if err := json.Unmarshal(args[0], &req); err != nil {
		return nil, InvalidParamsError("invalid request")
	}

	ctx, cancel := s.runContext(ctx)
	defer cancel()

	res, err := s.runner.Run(ctx, req)
	if err != nil {
		return nil, runError(req.Image, err)
	}
	return res, nil
}

// searchNounVerb searches for the noun/verb pair producing a target.
// Params: [request].
func (s *Server) searchNounVerb(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing request parameter")
	}

	var req runner.SearchRequest
	if err := json.Unmarshal(args[0], &req); err != nil {
		return nil, InvalidParamsError("invalid request")
	}

	ctx, cancel := s.runContext(ctx)
	defer cancel()

	res, err := s.runner.Search(ctx, req)
	if errors.Is(err, search.ErrNotFound) {
		return nil, SearchExhaustedError(req.Target)
	}
	if err != nil {
		return nil, runError(req.Image, err)
	}
	return res, nil
}

// Image Methods

func (s *Server) images() (imagestore.Store, *RPCError) {
	images := s.runner.Images()
	if images == nil {
		return nil, ErrStoreUnavailable
	}
	return images, nil
}

// resolveImage accepts a base58 ID or a name.
func resolveImage(images imagestore.Store, ref string) (types.ImageID, *RPCError) {
	if id, err := types.ImageIDFromBase58(ref); err == nil && images.Has(id) {
		return id, nil
	}
	id, _, err := images.GetByName(ref)
	if err != nil {
		return types.ImageID{}, runError(ref, err)
	}
	return id, nil
}

// putImage stores a program. Params: [data, {name, encoding}?].
func (s *Server) putImage(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	images, rpcErr := s.images()
	if rpcErr != nil {
		return nil, rpcErr
	}
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing program parameter")
	}

	var data string
	if err := json.Unmarshal(args[0], &data); err != nil {
		return nil, InvalidParamsError("invalid program")
	}

	var config ImageConfig
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &config); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}

	program, err := DecodeImage(data, config.Encoding)
	if err != nil {
		return nil, InvalidParamsErrorf("invalid program: %v", err)
	}

	id, err := images.Put(config.Name, program)
	if err != nil {
		return nil, runError(config.Name, err)
	}

	if s.config.LogRequests {
		name := config.Name
		if name == "" {
			name = "-"
		}
		log.Printf("[RPC] stored image %s name=%s words=%d", id.Short(), name, len(program))
	}

	return PutImageResult{ID: id.String(), Words: len(program)}, nil
}

// getImage retrieves a program. Params: [idOrName, {encoding}?].
func (s *Server) getImage(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	images, rpcErr := s.images()
	if rpcErr != nil {
		return nil, rpcErr
	}
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing image parameter")
	}

	var ref string
	if err := json.Unmarshal(args[0], &ref); err != nil {
		return nil, InvalidParamsError("invalid image")
	}

	var config ImageConfig
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &config); err != nil {
			return nil, InvalidParamsError("invalid config")
		}
	}

	id, rpcErr := resolveImage(images, ref)
	if rpcErr != nil {
		return nil, rpcErr
	}

	meta, err := images.Meta(id)
	if err != nil {
		return nil, runError(ref, err)
	}
	program, err := images.Get(id)
	if err != nil {
		return nil, runError(ref, err)
	}

	info := imageInfo(meta)
	info.Data, err = EncodeImage(program, config.Encoding)
	if err != nil {
		return nil, InvalidParamsErrorf("invalid encoding: %v", err)
	}
	return info, nil
}

// listImages returns metadata for every stored image.
func (s *Server) listImages(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	images, rpcErr := s.images()
	if rpcErr != nil {
		return nil, rpcErr
	}

	metas, err := images.List()
	if err != nil {
		return nil, InternalServerErrorf("failed to list images: %v", err)
	}

	out := make([]ImageInfo, 0, len(metas))
	for i := range metas {
		out = append(out, imageInfo(&metas[i]))
	}
	return out, nil
}

// deleteImage removes an image. Params: [idOrName].
func (s *Server) deleteImage(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	images, rpcErr := s.images()
	if rpcErr != nil {
		return nil, rpcErr
	}
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing image parameter")
	}

	var ref string
	if err := json.Unmarshal(args[0], &ref); err != nil {
		return nil, InvalidParamsError("invalid image")
	}

	id, rpcErr := resolveImage(images, ref)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := images.Delete(id); err != nil {
		return nil, runError(ref, err)
	}
	return true, nil
}

// Node Methods

// getHealth returns the node health status.
func (s *Server) getHealth(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	return "ok", nil
}

// getVersion returns the node version.
func (s *Server) getVersion(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	ops := make([]string, len(supportedOpcodes))
	for i, op := range supportedOpcodes {
		ops[i] = op.String()
	}
	return VersionInfo{
		Core:    CoreVersion,
		Opcodes: ops,
	}, nil
}

// getStats returns runner and image store counters.
func (s *Server) getStats(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	info := StatsInfo{
		Runner: s.runner.Stats(),
		Uptime: time.Since(s.started).Seconds(),
	}
	if images := s.runner.Images(); images != nil {
		stats, err := images.Stats()
		if err != nil {
			return nil, InternalServerErrorf("failed to get image stats: %v", err)
		}
		info.Images = stats
	}
	return info, nil
}
