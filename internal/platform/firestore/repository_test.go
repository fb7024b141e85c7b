package firestore

import (
	"testing"

	"cloud.google.com/go/firestore"
	firestorepb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestAggregateIntDecodesValues(t *testing.T) {
	result := firestore.AggregationResult{
		"count":  &firestorepb.Value{ValueType: &firestorepb.Value_IntegerValue{IntegerValue: 4}},
		"sum":    &firestorepb.Value{ValueType: &firestorepb.Value_DoubleValue{DoubleValue: 12000.4}},
		"empty":  &firestorepb.Value{ValueType: &firestorepb.Value_NullValue{NullValue: structpb.NullValue_NULL_VALUE}},
		"string": &firestorepb.Value{ValueType: &firestorepb.Value_StringValue{StringValue: "4"}},
	}

	tests := []struct {
		alias   string
		want    int64
		wantErr bool
	}{
		{alias: "count", want: 4},
		{alias: "sum", want: 12000},
		{alias: "empty", want: 0},
		{alias: "string", wantErr: true},
		{alias: "missing", wantErr: true},
	}
	for _, tc := range tests {
		got, err := aggregateInt(result, tc.alias)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error, got %d", tc.alias, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tc.alias, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.alias, tc.want, got)
		}
	}
}
