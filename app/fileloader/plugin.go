package fileloader

import (
	"context"
	"fmt"

	"casefile/app/interfaces"
	"casefile/app/plugin"
)

// ReadPlugin runs the external converter registered for filePath and
// streams its CSV output through the delimited reader. A converter failure
// aborts the read with its stderr.
func ReadPlugin(ctx context.Context, filePath string, fo interfaces.FileOptions, sink Sink, o Options) (Result, error) {
	o = o.withDefaults()
	p, ok := o.Plugins.ForFile(filePath, fo.PluginID)
	if !ok {
		return Result{}, fmt.Errorf("%w: no plugin for %s", ErrUnsupportedFormat, filePath)
	}
	o.Logger.Log("info", fmt.Sprintf("[IMPORT] converting %s with plugin %s %s", filePath, p.Manifest.Name, p.Manifest.Version))

	out, err := plugin.NewExecutor(p).Stream(ctx, filePath)
	if err != nil {
		return Result{}, err
	}
	res, readErr := ReadDelimited(ctx, out, interfaces.FileOptions{Delimiter: ",", NoHeaderRow: fo.NoHeaderRow}, sink, o)
	if closeErr := out.Close(); closeErr != nil {
		return Result{}, closeErr
	}
	if readErr != nil {
		return Result{}, readErr
	}
	res.Format = FileTypePlugin
	return res, nil
}
