// Package tfdetect runs an SSD object-detection model (COCO-SSD style) with
// TensorFlow Lite.
package tfdetect

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/fiapx/fiapx-annotation-service/internal/domain/entity"
	tflite "github.com/tphakala/go-tflite"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

type Options struct {
	ModelPath  string
	LabelsPath string
	MinScore   float64
	MaxBoxes   int
	Threads    int
}

type Detector struct {
	mu          sync.Mutex
	model       *tflite.Model
	interpreter *tflite.Interpreter
	labels      []string
	inputW      int
	inputH      int
	inputType   tflite.TensorType
	input       *image.RGBA
	minScore    float64
	maxBoxes    int
	logger      *zap.Logger
}

func NewDetector(opts Options, logger *zap.Logger) (*Detector, error) {
	labels, err := loadLabels(opts.LabelsPath)
	if err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}

	model := tflite.NewModelFromFile(opts.ModelPath)
	if model == nil {
		return nil, fmt.Errorf("cannot load model from path: %s", opts.ModelPath)
	}

	threads := opts.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ interface{}) {
		logger.Warn("tflite", zap.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		model.Delete()
		return nil, fmt.Errorf("cannot create interpreter")
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		model.Delete()
		return nil, fmt.Errorf("tensor allocation failed")
	}

	in := interpreter.GetInputTensor(0)
	if in == nil || in.NumDims() != 4 {
		interpreter.Delete()
		model.Delete()
		return nil, fmt.Errorf("unexpected input tensor shape")
	}
	inputH, inputW := in.Dim(1), in.Dim(2)
	inputType := in.Type()
	if inputType != tflite.Float32 && inputType != tflite.UInt8 {
		interpreter.Delete()
		model.Delete()
		return nil, fmt.Errorf("unsupported input tensor type %v, want float32 or uint8", inputType)
	}

	maxBoxes := opts.MaxBoxes
	if maxBoxes <= 0 {
		maxBoxes = 20
	}

	logger.Info("detector model loaded",
		zap.String("model", opts.ModelPath),
		zap.Int("labels", len(labels)),
		zap.Int("input_width", inputW),
		zap.Int("input_height", inputH),
		zap.Bool("quantized", inputType == tflite.UInt8),
		zap.Int("threads", threads),
	)

	return &Detector{
		model:       model,
		interpreter: interpreter,
		labels:      labels,
		inputW:      inputW,
		inputH:      inputH,
		inputType:   inputType,
		input:       image.NewRGBA(image.Rect(0, 0, inputW, inputH)),
		minScore:    opts.MinScore,
		maxBoxes:    maxBoxes,
		logger:      logger,
	}, nil
}

func (d *Detector) Detect(ctx context.Context, frame image.Image) ([]entity.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.interpreter == nil {
		return nil, fmt.Errorf("detector is closed")
	}

	draw.ApproxBiLinear.Scale(d.input, d.input.Bounds(), frame, frame.Bounds(), draw.Src, nil)

	in := d.interpreter.GetInputTensor(0)
	if d.inputType == tflite.UInt8 {
		fillInputUint8(in.UInt8s(), d.input)
	} else {
		fillInput(in.Float32s(), d.input)
	}

	if status := d.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("tensor invoke failed")
	}

	boxes := d.interpreter.GetOutputTensor(0).Float32s()
	classes := d.interpreter.GetOutputTensor(1).Float32s()
	scores := d.interpreter.GetOutputTensor(2).Float32s()
	count := len(scores)
	if t := d.interpreter.GetOutputTensor(3); t != nil {
		if c := t.Float32s(); len(c) > 0 {
			count = int(c[0])
		}
	}

	b := frame.Bounds()
	return decodeSSD(ssdOutput{
		boxes:   boxes,
		classes: classes,
		scores:  scores,
		count:   count,
	}, d.labels, b.Dx(), b.Dy(), d.minScore, d.maxBoxes), nil
}

func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.interpreter != nil {
		d.interpreter.Delete()
		d.interpreter = nil
	}
	if d.model != nil {
		d.model.Delete()
		d.model = nil
	}
	return nil
}

// fillInput normalizes RGB pixels to [-1, 1] in NHWC order.
func fillInput(dst []float32, img *image.RGBA) {
	b := img.Bounds()
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := (y - b.Min.Y) * img.Stride
		for x := 0; x < b.Dx(); x++ {
			p := img.Pix[off+x*4 : off+x*4+3]
			for c := 0; c < 3 && i < len(dst); c++ {
				dst[i] = (float32(p[c]) - 127.5) / 127.5
				i++
			}
		}
	}
}

// fillInputUint8 copies raw RGB bytes in NHWC order for quantized models.
func fillInputUint8(dst []uint8, img *image.RGBA) {
	b := img.Bounds()
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := (y - b.Min.Y) * img.Stride
		for x := 0; x < b.Dx(); x++ {
			p := img.Pix[off+x*4 : off+x*4+3]
			for c := 0; c < 3 && i < len(dst); c++ {
				dst[i] = p[c]
				i++
			}
		}
	}
}

func loadLabels(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var labels []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}
