package main

const (
	MsgHelp = "Try POSTing data to /image\n"

	MsgUsage = `Object detection server.

Serve mode (default):
  detect-server -model frozen_inference_graph.onnx [-addr 127.0.0.1:8080]

Batch mode:
  detect-server -model frozen_inference_graph.onnx -image_dir ./photos [-threshold 0.8]

Flags:
`
)
