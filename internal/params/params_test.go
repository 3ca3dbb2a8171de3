package params

import "testing"

func TestSoftNonceMax(t *testing.T) {
	p := MainnetParams.Clone()

	tests := []struct {
		height int32
		want   uint32
	}{
		{-1, 0},
		{0, 0xffffff},
		{SoftNonceLimitHeight - 1, 0xffffff},
		{SoftNonceLimitHeight, 0x1ffff},
		{SoftNonceLimitHeight * 100, 0x1ffff},
	}

	for _, test := range tests {
		if got := p.SoftNonceMax(test.height); got != test.want {
			t.Errorf("SoftNonceMax(%d) = %#x, want %#x", test.height, got, test.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		epochs  []SoftNonceEpoch
		wantErr bool
	}{
		{"Mainnet", MainnetParams.SoftNonceEpochs, false},
		{"Empty", nil, true},
		{"Late start", []SoftNonceEpoch{{FromHeight: 5, Max: 1}}, true},
		{"Too wide", []SoftNonceEpoch{{FromHeight: 0, Max: 0x1000000}}, true},
		{"Unsorted", []SoftNonceEpoch{{0, 10}, {100, 5}, {50, 1}}, true},
		{"Duplicate height", []SoftNonceEpoch{{0, 10}, {0, 5}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Params{AnnouncementVersion: 1, SoftNonceEpochs: tt.epochs}
			if err := p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestByNameReturnsCopy(t *testing.T) {
	p, err := ByName("mainnet")
	if err != nil {
		t.Fatalf("ByName failed: %v", err)
	}
	p.SoftNonceEpochs[0].Max = 1
	if MainnetParams.SoftNonceEpochs[0].Max != 0xffffff {
		t.Error("ByName leaked a reference to the package-level params")
	}

	if _, err := ByName("regtest"); err == nil {
		t.Error("expected error for unknown network")
	}
}
