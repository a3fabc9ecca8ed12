package parser

import (
	"strings"
	"time"

	"github.com/mickamy/rockscope/internal/model"
	"github.com/mickamy/rockscope/internal/value"
)

// Strategy builds the specialized view of an operator from its common and
// unique metric maps.
type Strategy func(common, unique map[string]string) model.SpecializedMetrics

var strategies = map[model.NodeType]Strategy{
	model.NodeTypeOlapScan:       scanStrategy,
	model.NodeTypeConnectorScan:  func(_, unique map[string]string) model.SpecializedMetrics { return connectorScan(unique) },
	model.NodeTypeExchangeSink:   exchangeSinkStrategy,
	model.NodeTypeExchangeSource: func(map[string]string, map[string]string) model.SpecializedMetrics { return nil },
	model.NodeTypeHashJoin:       joinStrategy,
	model.NodeTypeAggregate:      aggregateStrategy,
	model.NodeTypeResultSink:     resultSinkStrategy,
	model.NodeTypeOlapTableSink:  olapTableSinkStrategy,
}

// ParseSpecialized returns the specialized metrics for the operator called
// name, or nil when its family has none.
func ParseSpecialized(name string, common, unique map[string]string) model.SpecializedMetrics {
	strategy, ok := strategies[KindOf(name)]
	if !ok {
		return nil
	}
	return strategy(common, unique)
}

// scanStrategy treats any scan carrying a DataSourceType as a connector scan.
func scanStrategy(_, unique map[string]string) model.SpecializedMetrics {
	if _, ok := unique["DataSourceType"]; ok {
		return connectorScan(unique)
	}
	return model.OlapScanMetrics{
		Table:     unique["Table"],
		Rollup:    unique["Rollup"],
		ScanTime:  durationOf(unique, "ScanTime"),
		IOTime:    durationOf(unique, "IOTime"),
		BytesRead: bytesOf(unique, "BytesRead"),
		RowsRead:  numberOf(unique, "RowsRead"),
	}
}

func connectorScan(unique map[string]string) model.SpecializedMetrics {
	return model.ConnectorScanMetrics{
		DataSourceType:               unique["DataSourceType"],
		Table:                        unique["Table"],
		Rollup:                       unique["Rollup"],
		MorselQueueType:              unique["MorselQueueType"],
		IOTime:                       durationOf(unique, "IOTime"),
		IOTaskExecTime:               durationOf(unique, "IOTaskExecTime.IOTime"),
		ScanTime:                     durationOf(unique, "ScanTime"),
		BytesRead:                    bytesOf(unique, "BytesRead"),
		UncompressedBytesRead:        bytesOf(unique, "UncompressedBytesRead"),
		RowsRead:                     numberOf(unique, "RowsRead"),
		RawRowsRead:                  numberOf(unique, "RawRowsRead"),
		CompressedBytesReadLocalDisk: bytesOf(unique, "CompressedBytesReadLocalDisk"),
		CompressedBytesReadRemote:    bytesOf(unique, "CompressedBytesReadRemote"),
		CompressedBytesReadRequest:   bytesOf(unique, "CompressedBytesReadRequest"),
		IOCountLocalDisk:             numberOf(unique, "IOCountLocalDisk"),
		IOCountRemote:                numberOf(unique, "IOCountRemote"),
		IOTimeLocalDisk:              durationOf(unique, "IOTimeLocalDisk"),
		IOTimeRemote:                 durationOf(unique, "IOTimeRemote"),
		SegmentInit:                  durationOf(unique, "SegmentInit"),
		SegmentRead:                  durationOf(unique, "SegmentRead"),
		SegmentsReadCount:            numberOf(unique, "SegmentsReadCount"),
	}
}

func exchangeSinkStrategy(_, unique map[string]string) model.SpecializedMetrics {
	m := model.ExchangeSinkMetrics{
		PartType:         stringOr(unique, "PartType", "UNPARTITIONED"),
		BytesSent:        bytesOf(unique, "BytesSent"),
		BytesPassThrough: bytesOf(unique, "BytesPassThrough"),
		RequestSent:      numberOf(unique, "RequestSent"),
		NetworkTime:      durationOf(unique, "NetworkTime"),
		OverallTime:      durationOf(unique, "OverallTime"),
	}
	if dest, ok := unique["DestFragments"]; ok {
		for _, d := range strings.Split(dest, ",") {
			if d = strings.TrimSpace(d); d != "" {
				m.DestFragments = append(m.DestFragments, d)
			}
		}
	}
	return m
}

func joinStrategy(_, unique map[string]string) model.SpecializedMetrics {
	return model.JoinMetrics{
		JoinType:              stringOr(unique, "JoinType", "INNER"),
		BuildRows:             numberOf(unique, "BuildRows"),
		ProbeRows:             numberOf(unique, "ProbeRows"),
		RuntimeFilterNum:      numberOf(unique, "RuntimeFilterNum"),
		RuntimeFilterEvaluate: numberOf(unique, "JoinRuntimeFilterEvaluate"),
	}
}

func aggregateStrategy(_, unique map[string]string) model.SpecializedMetrics {
	chunkByChunk, _ := value.ParseBool(unique["ChunkByChunk"])
	return model.AggregateMetrics{
		AggMode:         stringOr(unique, "AggMode", "NORMAL"),
		ChunkByChunk:    chunkByChunk,
		InputRows:       numberOf(unique, "InputRows"),
		AggFunctionTime: durationOf(unique, "AggFunctionTime"),
	}
}

func resultSinkStrategy(common, unique map[string]string) model.SpecializedMetrics {
	return model.ResultSinkMetrics{
		SinkType:             unique["SinkType"],
		OperatorTotalTime:    durationOf(common, "OperatorTotalTime"),
		MaxOperatorTotalTime: durationOf(common, MaxPrefix+"OperatorTotalTime"),
		AppendChunkTime:      durationOf(unique, "AppendChunkTime"),
		ResultRendTime:       durationOf(unique, "ResultRendTime"),
		TupleConvertTime:     durationOf(unique, "TupleConvertTime"),
	}
}

var olapTableSinkTimes = []string{
	"PrepareDataTime",
	"RpcClientSideTime",
	"RpcServerSideTime",
	"SendDataTime",
	"PackChunkTime",
	"ConvertChunkTime",
	"ValidateDataTime",
	"SerializeChunkTime",
	"SendRpcTime",
	"WaitResponseTime",
	"CloseWaitTime",
	"AllocAutoIncrementTime",
	"UpdateLoadChannelProfileTime",
}

func olapTableSinkStrategy(_, unique map[string]string) model.SpecializedMetrics {
	times := make(map[string]time.Duration)
	for _, key := range olapTableSinkTimes {
		if raw, ok := unique[key]; ok {
			if d, err := value.ParseDuration(raw); err == nil {
				times[key] = d
			}
		}
	}
	return model.OlapTableSinkMetrics{Times: times}
}

func stringOr(m map[string]string, key, fallback string) string {
	if v, ok := m[key]; ok && v != "" {
		return v
	}
	return fallback
}

func durationOf(m map[string]string, key string) time.Duration {
	d, _ := value.ParseDuration(m[key])
	return d
}

func bytesOf(m map[string]string, key string) uint64 {
	b, _ := value.ParseBytes(m[key])
	return b
}

func numberOf(m map[string]string, key string) uint64 {
	n, _ := value.ParseNumber[uint64](m[key])
	return n
}
