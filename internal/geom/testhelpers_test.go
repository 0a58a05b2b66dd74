package geom

func newTestRPCModel() *RPCModel {
	m := &RPCModel{
		PolyType:     PolynomialB,
		LineOffset:   5000,
		SampOffset:   5000,
		LatOffset:    43.6,
		LonOffset:    1.44,
		HeightOffset: 200,
		LineScale:    5000,
		SampScale:    5000,
		LatScale:     0.05,
		LonScale:     0.06,
		HeightScale:  500,
	}
	m.LineNum[1] = 0.02
	m.LineNum[2] = -1.0
	m.LineNum[3] = 0.01
	m.LineNum[4] = 0.001
	m.LineDen[0] = 1
	m.LineDen[1] = 0.0005
	m.SampNum[1] = 1.0
	m.SampNum[2] = 0.03
	m.SampNum[3] = -0.02
	m.SampNum[8] = 0.002
	m.SampDen[0] = 1
	m.SampDen[2] = -0.0004
	return m
}
