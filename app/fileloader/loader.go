package fileloader

import (
	"context"
	"fmt"

	"casefile/app/interfaces"
)

// Load detects the format of filePath and streams it into sink.
func Load(ctx context.Context, filePath string, fo interfaces.FileOptions, sink Sink, o Options) (Result, error) {
	o = o.withDefaults()
	if IsDirectory(filePath) {
		return Result{}, fmt.Errorf("%w: %s is a directory", ErrUnsupportedFormat, filePath)
	}
	ft, ct := DetectFileType(filePath, o.Plugins, fo.PluginID)

	var res Result
	var err error
	switch ft {
	case FileTypePlugin:
		res, err = ReadPlugin(ctx, filePath, fo, sink, o)
	case FileTypeXLSX, FileTypePlaso:
		// both need random access to the file
		if ct != CompressionNone {
			return Result{}, fmt.Errorf("%w: compressed %s input", ErrUnsupportedFormat, ft)
		}
		if ft == FileTypeXLSX {
			res, err = ReadXLSX(ctx, filePath, fo, sink, o)
		} else {
			res, err = ReadPlaso(ctx, filePath, sink, o)
		}
	case FileTypeEVTX, FileTypeDelimited:
		in, openErr := OpenInput(filePath, ct)
		if openErr != nil {
			return Result{}, openErr
		}
		defer in.Close()
		if ft == FileTypeEVTX {
			res, err = ReadEVTX(ctx, in, sink, o)
		} else {
			res, err = ReadDelimited(ctx, in, fo, sink, o)
		}
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filePath)
	}
	if err != nil {
		return Result{}, err
	}
	res.Compression = ct
	o.Logger.Log("info", fmt.Sprintf("[IMPORT] %s: %d rows, %d columns (%s, compression %s)", filePath, res.Rows, len(res.Headers), res.Format, ct))
	return res, nil
}
