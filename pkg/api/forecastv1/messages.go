package forecastv1

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/HatiCode/demandcast/pkg/adapters"
	"github.com/HatiCode/demandcast/pkg/features"
	"github.com/HatiCode/demandcast/pkg/models"
	"github.com/HatiCode/demandcast/pkg/storage"
	"github.com/HatiCode/demandcast/pkg/timeseries"
	"github.com/HatiCode/demandcast/pkg/training"
)

// DefaultSeriesName names series sent without a name.
const DefaultSeriesName = "series"

// DefaultDays is the horizon used when a forecast request names none.
const DefaultDays = 30

// Series is the wire form of a daily series.
type Series struct {
	Name   string             `json:"name"`
	Points []timeseries.Point `json:"points"`
}

// FromSeries converts a series for the wire.
func FromSeries(s timeseries.Series) Series {
	return Series{Name: s.Name, Points: s.Points}
}

// Build regularises the wire points into a daily series the same way CSV
// input is: same-day points are summed and gaps are forward-filled.
func (s Series) Build() (timeseries.Series, error) {
	df := adapters.DataFrame{Rows: make([]adapters.Row, len(s.Points))}
	for i, p := range s.Points {
		df.Rows[i] = adapters.Row{"ts": p.Date, "value": p.Value}
	}
	name := s.Name
	if name == "" {
		name = DefaultSeriesName
	}
	return features.NewBuilder().BuildSeries(name, df)
}

// TrainRequest asks the service to run model selection on Series.
type TrainRequest struct {
	Series Series `json:"series"`
}

// TrainResponse reports the selected model and every candidate's score.
type TrainResponse struct {
	RunID    string          `json:"run_id"`
	Model    string          `json:"model"`
	Scores   []storage.Score `json:"scores"`
	Failures []string        `json:"failures,omitempty"`
}

// NewTrainResponse summarises a training result.
func NewTrainResponse(res *training.Result) TrainResponse {
	resp := TrainResponse{RunID: res.RunID, Model: res.BestName, Scores: res.Scores}
	for _, f := range res.Failures {
		resp.Failures = append(resp.Failures, f.Error())
	}
	return resp
}

// ForecastRequest asks for Days forecast points continuing Series.
type ForecastRequest struct {
	Series Series `json:"series"`
	Days   int    `json:"days"`
}

// ForecastResponse carries the forecast of the stored best model.
type ForecastResponse struct {
	Model    string           `json:"model"`
	Forecast *models.Forecast `json:"forecast,omitempty"`
	Message  string           `json:"message,omitempty"`
}

// IndicatorsResponse lists the indicator rows computed for Series.
type IndicatorsResponse struct {
	Series string                  `json:"series"`
	Rows   []features.IndicatorRow `json:"rows"`
}

// ToStruct converts a JSON-serialisable message into a protobuf Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("convert %T to struct: %w", v, err)
	}
	return out, nil
}

// FromStruct decodes a protobuf Struct into v.
func FromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return fmt.Errorf("decode %T: empty message", v)
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("convert struct: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
