package model

import "time"

// SpecializedMetrics is the operator-family specific view of an operator's
// unique metrics. The set of implementations is closed to this package.
type SpecializedMetrics interface {
	Kind() string
	specialized()
}

// OlapScanMetrics describes a scan over native StarRocks storage.
type OlapScanMetrics struct {
	Table     string        `json:"table"`
	Rollup    string        `json:"rollup"`
	ScanTime  time.Duration `json:"scan_time,omitempty"`
	IOTime    time.Duration `json:"io_time,omitempty"`
	BytesRead uint64        `json:"bytes_read,omitempty"`
	RowsRead  uint64        `json:"rows_read,omitempty"`
}

// ConnectorScanMetrics describes a scan through a connector (lake tables,
// external catalogs).
type ConnectorScanMetrics struct {
	DataSourceType               string        `json:"data_source_type"`
	Table                        string        `json:"table"`
	Rollup                       string        `json:"rollup"`
	MorselQueueType              string        `json:"morsel_queue_type"`
	IOTime                       time.Duration `json:"io_time,omitempty"`
	IOTaskExecTime               time.Duration `json:"io_task_exec_time,omitempty"`
	ScanTime                     time.Duration `json:"scan_time,omitempty"`
	BytesRead                    uint64        `json:"bytes_read,omitempty"`
	UncompressedBytesRead        uint64        `json:"uncompressed_bytes_read,omitempty"`
	RowsRead                     uint64        `json:"rows_read,omitempty"`
	RawRowsRead                  uint64        `json:"raw_rows_read,omitempty"`
	CompressedBytesReadLocalDisk uint64        `json:"compressed_bytes_read_local_disk,omitempty"`
	CompressedBytesReadRemote    uint64        `json:"compressed_bytes_read_remote,omitempty"`
	CompressedBytesReadRequest   uint64        `json:"compressed_bytes_read_request,omitempty"`
	IOCountLocalDisk             uint64        `json:"io_count_local_disk,omitempty"`
	IOCountRemote                uint64        `json:"io_count_remote,omitempty"`
	IOTimeLocalDisk              time.Duration `json:"io_time_local_disk,omitempty"`
	IOTimeRemote                 time.Duration `json:"io_time_remote,omitempty"`
	SegmentInit                  time.Duration `json:"segment_init,omitempty"`
	SegmentRead                  time.Duration `json:"segment_read,omitempty"`
	SegmentsReadCount            uint64        `json:"segments_read_count,omitempty"`
}

type ExchangeSinkMetrics struct {
	PartType         string        `json:"part_type"`
	BytesSent        uint64        `json:"bytes_sent,omitempty"`
	BytesPassThrough uint64        `json:"bytes_pass_through,omitempty"`
	RequestSent      uint64        `json:"request_sent,omitempty"`
	NetworkTime      time.Duration `json:"network_time,omitempty"`
	OverallTime      time.Duration `json:"overall_time,omitempty"`
	DestFragments    []string      `json:"dest_fragments,omitempty"`
}

type JoinMetrics struct {
	JoinType              string `json:"join_type"`
	BuildRows             uint64 `json:"build_rows,omitempty"`
	ProbeRows             uint64 `json:"probe_rows,omitempty"`
	RuntimeFilterNum      uint64 `json:"runtime_filter_num,omitempty"`
	RuntimeFilterEvaluate uint64 `json:"runtime_filter_evaluate,omitempty"`
}

type AggregateMetrics struct {
	AggMode         string        `json:"agg_mode"`
	ChunkByChunk    bool          `json:"chunk_by_chunk"`
	InputRows       uint64        `json:"input_rows,omitempty"`
	AggFunctionTime time.Duration `json:"agg_function_time,omitempty"`
}

type ResultSinkMetrics struct {
	SinkType             string        `json:"sink_type"`
	OperatorTotalTime    time.Duration `json:"operator_total_time,omitempty"`
	MaxOperatorTotalTime time.Duration `json:"max_operator_total_time,omitempty"`
	AppendChunkTime      time.Duration `json:"append_chunk_time,omitempty"`
	ResultRendTime       time.Duration `json:"result_rend_time,omitempty"`
	TupleConvertTime     time.Duration `json:"tuple_convert_time,omitempty"`
}

// OlapTableSinkMetrics keeps the load-path timings of a table sink, keyed by
// metric name.
type OlapTableSinkMetrics struct {
	Times map[string]time.Duration `json:"times"`
}

func (OlapScanMetrics) Kind() string      { return "olap_scan" }
func (ConnectorScanMetrics) Kind() string { return "connector_scan" }
func (ExchangeSinkMetrics) Kind() string  { return "exchange_sink" }
func (JoinMetrics) Kind() string          { return "join" }
func (AggregateMetrics) Kind() string     { return "aggregate" }
func (ResultSinkMetrics) Kind() string    { return "result_sink" }
func (OlapTableSinkMetrics) Kind() string { return "olap_table_sink" }

func (OlapScanMetrics) specialized()      {}
func (ConnectorScanMetrics) specialized() {}
func (ExchangeSinkMetrics) specialized()  {}
func (JoinMetrics) specialized()          {}
func (AggregateMetrics) specialized()     {}
func (ResultSinkMetrics) specialized()    {}
func (OlapTableSinkMetrics) specialized() {}
