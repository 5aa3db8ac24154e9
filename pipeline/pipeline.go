// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

// Package pipeline runs the conversion stages end to end: archive
// extraction, CRS detection, read, cleanup, normalization,
// reprojection, write, packaging and quality reporting.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"geoconvert.io/geoconvert/geo/attrnorm"
	"geoconvert.io/geoconvert/geo/detect"
	"geoconvert.io/geoconvert/geo/formats"
	"geoconvert.io/geoconvert/geo/geomclean"
	"geoconvert.io/geoconvert/geo/quality"
)

// Error is the default error class for the pipeline package.
var Error = errs.Class("pipeline")

var mon = monkit.Package()

// Options controls one conversion run.
type Options struct {
	OutputFormat        string
	TargetEPSG          int
	FixGeometries       bool
	NormalizeAttributes bool
	Encoding            string
	WorkDir             string
	DriverOptions       map[string]string
}

// Result is what a finished conversion produced.
type Result struct {
	OutputPath     string
	OutputFormat   string
	FeatureCount   int
	SourceEPSG     int
	TargetEPSG     int
	Report         *quality.Report
	GeometryStats  geomclean.Stats
	AttributeStats attrnorm.Stats
	Elapsed        time.Duration
	Detection      detect.Result
	GeometryType   string
}

// Processor drives conversions. Safe for concurrent use.
type Processor struct {
	log *zap.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(log *zap.Logger) *Processor {
	return &Processor{log: log}
}

// Process runs the full conversion pipeline over one input file. The
// stages run in a fixed order and the first failure aborts the run.
func (p *Processor) Process(ctx context.Context, inputPath string, opts Options) (_ *Result, err error) {
	defer mon.Task()(&ctx)(&err)
	start := time.Now()

	if opts.Encoding == "" {
		opts.Encoding = "UTF-8"
	}
	workDir := opts.WorkDir
	if workDir == "" {
		workDir, err = os.MkdirTemp("", "geoconvert-")
		if err != nil {
			return nil, Error.Wrap(err)
		}
		defer func() { _ = os.RemoveAll(workDir) }()
	}

	// stage 1: archive extraction
	workPath := inputPath
	if strings.EqualFold(filepath.Ext(inputPath), ".zip") {
		extractDir := filepath.Join(workDir, "extracted")
		if err := os.MkdirAll(extractDir, 0o755); err != nil {
			return nil, Error.Wrap(err)
		}
		workPath, err = formats.ExtractArchive(ctx, inputPath, extractDir)
		if err != nil {
			return nil, err
		}
		p.log.Debug("archive extracted", zap.String("principal", filepath.Base(workPath)))
	}
	if err := ctx.Err(); err != nil {
		return nil, Error.Wrap(err)
	}

	// stage 2: source CRS detection
	detection, err := detect.Detect(ctx, workPath)
	if err != nil {
		return nil, err
	}
	sourceEPSG := detection.EPSG

	// stage 3: read with encoding fallback
	ds, err := formats.Read(ctx, workPath, opts.Encoding)
	if err != nil {
		return nil, err
	}
	if sourceEPSG != 0 {
		ds.EPSG = sourceEPSG
	}

	// stage 4: snapshot for the quality report
	before := ds.Clone()

	if err := ctx.Err(); err != nil {
		return nil, Error.Wrap(err)
	}

	// stage 5: geometry cleanup
	var geomStats geomclean.Stats
	if opts.FixGeometries {
		ds, geomStats = geomclean.Clean(ds)
	}

	// stage 6: attribute normalization
	var attrStats attrnorm.Stats
	if opts.NormalizeAttributes {
		ds, attrStats = attrnorm.Normalize(ds, opts.OutputFormat)
	}

	if err := ctx.Err(); err != nil {
		return nil, Error.Wrap(err)
	}

	// stage 7: reprojection policy
	effectiveTarget := opts.TargetEPSG
	switch {
	case opts.TargetEPSG != 0 && sourceEPSG != 0 && opts.TargetEPSG != sourceEPSG:
		ds, err = detect.Reproject(ctx, ds, sourceEPSG, opts.TargetEPSG)
		if err != nil {
			return nil, err
		}
	case sourceEPSG != 0 && opts.TargetEPSG == 0:
		ds.EPSG = sourceEPSG
		effectiveTarget = sourceEPSG
	}

	// stage 8: write
	info, ok := formats.Lookup(opts.OutputFormat)
	if !ok {
		return nil, Error.New("unsupported output format %q", opts.OutputFormat)
	}
	stem := strings.TrimSuffix(filepath.Base(workPath), filepath.Ext(workPath))
	if name := opts.DriverOptions["layer_name"]; name != "" {
		stem = name
	}
	outputPath := filepath.Join(workDir, stem+info.Extension)
	if err := formats.Write(ctx, ds, outputPath, opts.OutputFormat, opts.Encoding); err != nil {
		return nil, err
	}

	// stage 9: packaging for multi-file outputs
	finalPath, err := formats.Package(ctx, outputPath, opts.OutputFormat)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)

	// stage 10: quality report
	report := quality.Generate(before, ds, geomStats, attrStats, sourceEPSG, effectiveTarget, elapsed)

	p.log.Info("conversion finished",
		zap.String("format", opts.OutputFormat),
		zap.Int("features", len(ds.Features)),
		zap.Int("source_epsg", sourceEPSG),
		zap.Int("target_epsg", effectiveTarget),
		zap.Int("score", report.QualityScore),
		zap.Duration("elapsed", elapsed))

	return &Result{
		OutputPath:     finalPath,
		OutputFormat:   opts.OutputFormat,
		FeatureCount:   len(ds.Features),
		SourceEPSG:     sourceEPSG,
		TargetEPSG:     effectiveTarget,
		Report:         report,
		GeometryStats:  geomStats,
		AttributeStats: attrStats,
		Elapsed:        elapsed,
		Detection:      detection,
		GeometryType:   geomclean.DominantType(ds),
	}, nil
}
